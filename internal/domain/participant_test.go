package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestNewParticipant(t *testing.T) {
	tests := []struct {
		name    string
		id      UserID
		pname   string
		role    Role
		wantErr error
	}{
		{"valid patient", "u1", "Pat", RolePatient, nil},
		{"valid doctor", "u2", "Doc", RoleDoctor, nil},
		{"empty name", "u3", "", RolePatient, ErrUserNameEmpty},
		{"name too long", "u4", strings.Repeat("x", MaxUserNameLen+1), RolePatient, ErrUserNameTooLong},
		{"bad role", "u5", "Eve", Role("admin"), ErrUnknownRole},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p, err := NewParticipant(tc.id, tc.pname, tc.role)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
			if err == nil && p.ID != tc.id {
				t.Errorf("id = %s, want %s", p.ID, tc.id)
			}
		})
	}
}

func TestNewParticipantGeneratesID(t *testing.T) {
	p, err := NewParticipant("", "Anon", RolePatient)
	if err != nil {
		t.Fatal(err)
	}
	if p.ID == "" {
		t.Error("empty id not generated")
	}
}

func TestNewRoomIDShape(t *testing.T) {
	id := string(NewRoomID())
	if !strings.HasPrefix(id, "room-") || len(id) != len("room-")+12 {
		t.Errorf("room id = %q", id)
	}
	if NewRoomID() == NewRoomID() {
		t.Error("room ids collide")
	}
}

func TestHasParticipant(t *testing.T) {
	creator := Participant{ID: "u1", Name: "Pat", Role: RolePatient}
	room := NewRoom(creator)
	if !room.HasParticipant("u1") {
		t.Error("creator not a participant")
	}
	if room.HasParticipant("u2") {
		t.Error("stranger reported as participant")
	}
}
