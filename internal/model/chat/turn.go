package chat

import "time"

// Role attributes a turn to one side of the conversation.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Kind distinguishes regular conversation turns from synthetic notices.
type Kind string

const (
	// KindNormal marks a turn that belongs to the conversation proper.
	KindNormal Kind = "normal"
	// KindSystemNotice marks a synthetic turn (persona-switch
	// announcements, greetings). Visible in the transcript, never sent
	// to the model.
	KindSystemNotice Kind = "system_notice"
)

// Turn is one immutable message in a session transcript.
type Turn struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Role      Role      `json:"role"`
	Kind      Kind      `json:"kind"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}
