package models

import (
	"fmt"

	"github.com/google/uuid"
)

// Role is the closed set of caller roles the booking core authorizes against
type Role string

const (
	RoleGuest    Role = "guest"
	RoleCustomer Role = "customer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

// ParseRole converts a token claim into a Role
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleGuest, RoleCustomer, RoleOperator, RoleAdmin:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Actor identifies who is performing an operation. Guests carry no user id.
type Actor struct {
	UserID *uuid.UUID `json:"user_id,omitempty"`
	Role   Role       `json:"role"`
	Name   string     `json:"name,omitempty"`
}

// Guest returns the anonymous actor
func Guest() Actor {
	return Actor{Role: RoleGuest}
}

// NewActor builds an authenticated actor
func NewActor(userID uuid.UUID, role Role, name string) Actor {
	return Actor{UserID: &userID, Role: role, Name: name}
}

// IsAdmin reports whether the actor is an administrator
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// IsAuthenticated reports whether the actor carries a user id
func (a Actor) IsAuthenticated() bool {
	return a.UserID != nil && a.Role != RoleGuest
}

// Is reports whether the actor is the given user
func (a Actor) Is(userID *uuid.UUID) bool {
	if a.UserID == nil || userID == nil {
		return false
	}
	return *a.UserID == *userID
}

// Label names the actor in human-readable notification text
func (a Actor) Label() string {
	if a.Name != "" {
		return a.Name
	}
	switch a.Role {
	case RoleAdmin:
		return "admin"
	case RoleOperator:
		return "operator"
	case RoleCustomer:
		return "customer"
	case RoleGuest:
		return "guest"
	}
	return "Unknown"
}
