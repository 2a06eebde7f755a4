package model

type UserRole string

const (
	Counselor  UserRole = "counselor"
	Supervisor UserRole = "supervisor"
)

func (r UserRole) Valid() bool {
	return r == Counselor || r == Supervisor
}

// Actor is the authenticated caller of an operation, as supplied by the identity provider.
type Actor struct {
	ID   uint     `json:"id"`
	Role UserRole `json:"role"`
}

func (a Actor) IsSupervisor() bool {
	return a.Role == Supervisor
}

// CanAccessResource reports whether the actor may act on a resource owned by ownerID.
func CanAccessResource(actor Actor, ownerID uint) bool {
	return actor.ID == ownerID || actor.IsSupervisor()
}
