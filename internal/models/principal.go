package models

import "github.com/google/uuid"

// RoleAdmin grants operator access to bookings and jobs
const RoleAdmin = "admin"

// Principal is the authenticated caller of a booking request
type Principal struct {
	ID    uuid.UUID
	Roles []string
}

// IsAdmin checks whether the principal carries the admin role
func (p Principal) IsAdmin() bool {
	for _, r := range p.Roles {
		if r == RoleAdmin {
			return true
		}
	}
	return false
}

// CanAccess reports whether the principal may act on a record owned by ownerID
func (p Principal) CanAccess(ownerID uuid.UUID) bool {
	return p.ID == ownerID || p.IsAdmin()
}
