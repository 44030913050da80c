package domain

import "github.com/google/uuid"

type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

// ParseRole accepts the legacy "user" spelling for customers.
func ParseRole(s string) (Role, bool) {
	switch s {
	case "customer", "user":
		return RoleCustomer, true
	case "admin":
		return RoleAdmin, true
	}
	return "", false
}

// Actor is the identity on whose behalf an operation runs.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

func (a Actor) IsAnonymous() bool { return a.ID == uuid.Nil }

// Owns reports whether the actor may act as the owner of something owned by ownerID.
func (a Actor) Owns(ownerID uuid.UUID) bool {
	return !a.IsAnonymous() && a.ID == ownerID
}
