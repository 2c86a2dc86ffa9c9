package core

import (
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/pushkar-hue/teleconsult/internal/domain"
)

func TestOfferPayloadRoundTrip(t *testing.T) {
	sdp := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0\r\n"}
	msg, err := NewOfferMessage("room-1", "u1", sdp)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if msg.Type != MsgVideoOffer || msg.Room != "room-1" || msg.Timestamp == 0 {
		t.Fatalf("envelope = %+v", msg)
	}
	got, err := msg.SessionDescription()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Type != sdp.Type || got.SDP != sdp.SDP {
		t.Errorf("decoded = %+v, want %+v", got, sdp)
	}
}

func TestChatDecodeUsesEnvelopeStamps(t *testing.T) {
	sender := domain.Participant{ID: "u1", Name: "Pat", Role: domain.RolePatient}
	msg, err := NewChatMessage("room-1", sender, "hello")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	chat, err := msg.Chat()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if chat.Content != "hello" || chat.SenderName != "Pat" || chat.Timestamp.IsZero() {
		t.Errorf("chat = %+v", chat)
	}
}

func TestMalformedPayloadIsAnError(t *testing.T) {
	msg := SignalingMessage{Type: MsgVideoOffer, Payload: []byte(`{broken`)}
	if _, err := msg.SessionDescription(); err == nil {
		t.Error("broken sdp payload decoded")
	}
	if _, err := msg.Candidate(); err == nil {
		t.Error("broken candidate payload decoded")
	}
}

func TestCallErrorUnwraps(t *testing.T) {
	err := NewCallError(ErrRoomFull, "room %s", "room-1")
	if !errors.Is(err, ErrRoomFull) {
		t.Error("errors.Is failed through CallError")
	}
	if err.Error() != "room full: room room-1" {
		t.Errorf("message = %q", err.Error())
	}
}
