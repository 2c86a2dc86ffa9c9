// Package domain contains entities without logic, just meta-data.
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const (
	MaxUserIDLen   = 36
	MaxUserNameLen = 64
)

var (
	ErrUserNameTooLong = errors.New("user name too long")
	ErrUserNameEmpty   = errors.New("user name empty")
	ErrUnknownRole     = errors.New("unknown role")
)

type UserID string

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
)

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RolePatient, RoleDoctor:
		return Role(s), nil
	default:
		return "", ErrUnknownRole
	}
}

// Participant is one side of a consultation: the authenticated user as
// the relay and the call machine see them.
type Participant struct {
	ID   UserID `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// NewParticipant is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewParticipant(id UserID, name string, role Role) (Participant, error) {
	if len(name) == 0 {
		return Participant{}, ErrUserNameEmpty
	}
	if len(name) > MaxUserNameLen {
		return Participant{}, ErrUserNameTooLong
	}
	if _, err := ParseRole(string(role)); err != nil {
		return Participant{}, err
	}
	if id == "" {
		id = UserID(uuid.NewString())
	}
	return Participant{ID: id, Name: name, Role: role}, nil
}
