package models

import "time"

// Conversation is an ordered thread of messages belonging to one user.
type Conversation struct {
	ID        string
	Title     string
	UserID    string
	CreatedAt time.Time
	Messages  []Message
}

// Message is one turn in a conversation. Seq reflects insertion order within
// the owning conversation and is assigned by the store.
type Message struct {
	ID             string
	Seq            int64
	Role           string
	Content        string
	Model          string
	ConversationID string
}
