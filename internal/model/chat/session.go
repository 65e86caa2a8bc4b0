package chat

import "time"

// Session captures a transient anonymous conversation. PersonaID is the
// only field that changes after creation; it moves on persona switch.
type Session struct {
	ID        string    `json:"id"`
	PersonaID string    `json:"personaId"`
	CreatedAt time.Time `json:"createdAt"`
}
