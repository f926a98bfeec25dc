package domain

import "time"

// DefaultConversationTitle is the title a conversation carries until its first user message.
const DefaultConversationTitle = "New Conversation"

// Conversation groups the messages of one chat thread.
type Conversation struct {
	ID          string    `json:"id"           db:"id"`
	Title       string    `json:"title"        db:"title"`
	Owner       string    `json:"owner"        db:"owner"`
	CreatedAt   time.Time `json:"created_at"   db:"created_at"`
	LastUpdated time.Time `json:"last_updated" db:"last_updated"`
}

// Message is a single turn of a conversation.
type Message struct {
	ID             string    `json:"id"              db:"id"`
	ConversationID string    `json:"conversation_id" db:"conversation_id"`
	Sender         string    `json:"sender"          db:"sender"` // user, ai, assistant, system
	Content        string    `json:"content"         db:"content"`
	Timestamp      time.Time `json:"timestamp"       db:"timestamp"`
}

// FromModel reports whether the message was produced by the language model.
func (m Message) FromModel() bool {
	return m.Sender == "ai" || m.Sender == "assistant"
}

// ChatMessage is one entry of the messages array sent to a model endpoint.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
