package domain

// Identity is the resolved caller the gate forwards to downstream handlers.
type Identity struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}
