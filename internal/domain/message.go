package domain

import "time"

// MessageType distinguishes the three kinds of chat turns. Loading messages
// are transient UI placeholders and are never written to durable storage.
type MessageType string

const (
	MessageUser    MessageType = "user"
	MessageSystem  MessageType = "system"
	MessageLoading MessageType = "loading"
)

// ContentKind tags the payload variant of a message.
type ContentKind string

const (
	ContentPlain    ContentKind = "plain"
	ContentAnalysis ContentKind = "analysis"
)

// Content is the tagged message payload: either plain text or a structured
// analysis response. The kind field makes the serialized form unambiguous,
// so reloading stored messages never requires sniffing string prefixes.
type Content struct {
	Kind     ContentKind       `json:"kind"`
	Text     string            `json:"text,omitempty"`
	Analysis *AnalysisResponse `json:"analysis,omitempty"`
}

// PlainContent wraps text as a plain content payload.
func PlainContent(text string) Content {
	return Content{Kind: ContentPlain, Text: text}
}

// AnalysisContent wraps a raw analysis response as structured content. The
// response is stored as-is; formatting happens at display time.
func AnalysisContent(resp AnalysisResponse) Content {
	return Content{Kind: ContentAnalysis, Analysis: &resp}
}

// PlainText returns the searchable text of the content: the raw text for
// plain payloads, empty for structured ones.
func (c Content) PlainText() string {
	if c.Kind == ContentPlain {
		return c.Text
	}
	return ""
}

// Message is a single conversation turn.
type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Content   Content     `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
}
