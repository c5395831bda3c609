package session

import (
	"context"

	"github.com/maisonluxe/storefront/internal/domain"
)

// Store persists sessions keyed by an opaque identifier.
//
// Get returns nil, nil for unknown or expired identifiers; absence is a normal
// outcome, not an error. Destroy is idempotent.
type Store interface {
	Create(ctx context.Context, subjectID string, role domain.Role) (*domain.Session, error)
	Get(ctx context.Context, sessionID string) (*domain.Session, error)
	Destroy(ctx context.Context, sessionID string) error
}

// SubjectRevoker destroys every live session of one subject, used when the
// subject's role changes.
type SubjectRevoker interface {
	DestroyForSubject(ctx context.Context, subjectID string) (int, error)
}
