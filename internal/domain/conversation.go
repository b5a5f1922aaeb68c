package domain

import "time"

// Conversation is a titled, ordered sequence of messages, addressable by id.
// Messages are append-only; ordering matches insertion order.
type Conversation struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Messages    []Message `json:"messages"`
	CreatedAt   time.Time `json:"createdAt"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// ConversationSummary is the sidebar view of a conversation. Derived on
// read, never persisted.
type ConversationSummary struct {
	ID          string
	Title       string
	LastMessage string
	LastUpdated time.Time
	CreatedAt   time.Time
}
