package domain

import "time"

// Session is the server-side record correlating a session cookie with a subject.
type Session struct {
	ID        string    `json:"-"`
	SubjectID string    `json:"subjectId"`
	Role      Role      `json:"role"`
	CreatedAt int64     `json:"createdAt"` // epoch milliseconds
	ExpiresAt time.Time `json:"-"`
}

// Identity returns the caller identity carried by the session.
func (s *Session) Identity() Identity {
	return Identity{ID: s.SubjectID, Role: s.Role}
}
