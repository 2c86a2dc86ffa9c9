package domain

import (
	"time"

	"github.com/google/uuid"
)

// ChatMessage is one in-call text message. The relay stamps the id and
// timestamp so both ends render the same ordering.
type ChatMessage struct {
	ID         string    `json:"id"`
	Room       RoomID    `json:"room"`
	SenderID   UserID    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewChatMessage avoids raw literals in adapters and keeps construction obvious.
func NewChatMessage(room RoomID, sender Participant, content string) ChatMessage {
	return ChatMessage{
		ID:         uuid.NewString(),
		Room:       room,
		SenderID:   sender.ID,
		SenderName: sender.Name,
		Content:    content,
		Timestamp:  time.Now().UTC(),
	}
}
