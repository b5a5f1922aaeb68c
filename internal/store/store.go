// Package store owns durable storage of conversations plus the single
// active-conversation pointer. All mutating operations write through to the
// backing partition synchronously; storage failures are logged and treated
// as best-effort no-ops, never surfaced as errors to callers.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"docchat/internal/domain"
	"docchat/internal/storage"
)

const (
	conversationsKey      = "conversations"
	activeConversationKey = "active-conversation"
)

const (
	previewRunes       = 50
	noMessagesPreview  = "No messages"
	structuredPreview  = "Complex content"
	defaultTitleFormat = "Conversation %d"
)

// Test seams for deterministic ids and timestamps.
var (
	newID = uuid.NewString
	now   = time.Now
)

// Watcher is implemented by backends that can report changes made by
// another process sharing the same partition.
type Watcher interface {
	Watch(ctx context.Context, interval time.Duration, fn func(key string))
}

// Store is the conversation store. It is safe for use from a single
// goroutine; the application has no other writers.
type Store struct {
	kv     storage.KV
	logger *slog.Logger
}

// New creates a Store over the given partition.
func New(kv storage.KV, logger *slog.Logger) (*Store, error) {
	if kv == nil {
		return nil, fmt.Errorf("store: kv must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{kv: kv, logger: logger}, nil
}

// ListAll returns summaries of every conversation, most recently updated
// first. Corrupt or missing persisted data yields an empty slice.
func (s *Store) ListAll() []domain.ConversationSummary {
	return summarize(s.load())
}

// Search returns summaries of conversations whose title or any message's
// plain-text content contains query as a case-insensitive substring. A
// blank query is equivalent to ListAll.
func (s *Store) Search(query string) []domain.ConversationSummary {
	if strings.TrimSpace(query) == "" {
		return s.ListAll()
	}
	term := strings.ToLower(query)

	var matched []domain.Conversation
	for _, conv := range s.load() {
		if conversationMatches(conv, term) {
			matched = append(matched, conv)
		}
	}
	return summarize(matched)
}

// Get returns the full conversation for id, or false if it does not exist.
func (s *Store) Get(id string) (domain.Conversation, bool) {
	for _, conv := range s.load() {
		if conv.ID == id {
			return conv, true
		}
	}
	return domain.Conversation{}, false
}

// Create allocates and persists a new conversation. The default title is
// ordinal on the current conversation count. An optional initial message
// seeds the message list.
func (s *Store) Create(initial *domain.Message) domain.Conversation {
	convs := s.load()
	ts := now()

	conv := domain.Conversation{
		ID:          newID(),
		Title:       fmt.Sprintf(defaultTitleFormat, len(convs)+1),
		CreatedAt:   ts,
		LastUpdated: ts,
	}
	if initial != nil {
		conv.Messages = []domain.Message{*initial}
	}

	s.save(append(convs, conv))
	return conv
}

// Update replaces the stored conversation with the same id, bumping
// lastUpdated. An unknown id is a caller logic error: it is logged and the
// write is dropped.
func (s *Store) Update(conv domain.Conversation) {
	convs := s.load()
	for i := range convs {
		if convs[i].ID == conv.ID {
			conv.LastUpdated = now()
			convs[i] = conv
			s.save(convs)
			return
		}
	}
	s.logger.Error("update for unknown conversation", "id", conv.ID)
}

// AddMessage appends a message to the conversation, bumping lastUpdated.
// If the conversation no longer exists, a fresh one is created seeded with
// the message. The resulting conversation is returned.
func (s *Store) AddMessage(conversationID string, msg domain.Message) domain.Conversation {
	convs := s.load()
	for i := range convs {
		if convs[i].ID == conversationID {
			convs[i].Messages = append(convs[i].Messages, msg)
			convs[i].LastUpdated = now()
			s.save(convs)
			return convs[i]
		}
	}
	return s.Create(&msg)
}

// Rename sets the conversation title when newTitle is non-blank, bumping
// lastUpdated. Unknown ids and blank titles are no-ops.
func (s *Store) Rename(id, newTitle string) {
	newTitle = strings.TrimSpace(newTitle)
	if newTitle == "" {
		return
	}
	convs := s.load()
	for i := range convs {
		if convs[i].ID == id {
			convs[i].Title = newTitle
			convs[i].LastUpdated = now()
			s.save(convs)
			return
		}
	}
}

// Delete removes the conversation. Unknown ids are a no-op. Deleting the
// active conversation leaves the active pointer stale; GetOrCreateActive
// resolves that on the next read.
func (s *Store) Delete(id string) {
	convs := s.load()
	kept := convs[:0]
	for _, conv := range convs {
		if conv.ID != id {
			kept = append(kept, conv)
		}
	}
	if len(kept) != len(convs) {
		s.save(kept)
	}
}

// ActiveID returns the persisted active conversation id, or "" when none
// is set.
func (s *Store) ActiveID() string {
	id, ok, err := s.kv.Get(activeConversationKey)
	if err != nil {
		s.logger.Error("read active conversation id", "err", err)
		return ""
	}
	if !ok {
		return ""
	}
	return id
}

// SetActiveID persists the active conversation pointer. An empty id clears
// it.
func (s *Store) SetActiveID(id string) {
	var err error
	if id == "" {
		err = s.kv.Delete(activeConversationKey)
	} else {
		err = s.kv.Set(activeConversationKey, id)
	}
	if err != nil {
		s.logger.Error("persist active conversation id", "err", err)
	}
}

// GetOrCreateActive guarantees the UI a conversation to display: the
// persisted active conversation if it still exists, else the most recently
// updated one, else a brand-new empty conversation. In the latter two cases
// the active pointer is repaired to the returned conversation.
func (s *Store) GetOrCreateActive() domain.Conversation {
	convs := s.load()

	if activeID := s.ActiveID(); activeID != "" {
		for _, conv := range convs {
			if conv.ID == activeID {
				return conv
			}
		}
	}

	if len(convs) > 0 {
		mostRecent := convs[0]
		for _, conv := range convs[1:] {
			if conv.LastUpdated.After(mostRecent.LastUpdated) {
				mostRecent = conv
			}
		}
		s.SetActiveID(mostRecent.ID)
		return mostRecent
	}

	conv := s.Create(nil)
	s.SetActiveID(conv.ID)
	return conv
}

// Watch forwards best-effort change notifications from the backing
// partition, invoking fn whenever either persisted key changes externally.
// Backends without watch support make this a no-op.
func (s *Store) Watch(ctx context.Context, interval time.Duration, fn func()) {
	w, ok := s.kv.(Watcher)
	if !ok {
		return
	}
	w.Watch(ctx, interval, func(key string) {
		if key == conversationsKey || key == activeConversationKey {
			fn()
		}
	})
}

func (s *Store) load() []domain.Conversation {
	raw, ok, err := s.kv.Get(conversationsKey)
	if err != nil {
		s.logger.Error("read conversations", "err", err)
		return nil
	}
	if !ok || raw == "" {
		return nil
	}
	var convs []domain.Conversation
	if err := json.Unmarshal([]byte(raw), &convs); err != nil {
		s.logger.Error("corrupt conversation data, treating store as empty", "err", err)
		return nil
	}
	return convs
}

func (s *Store) save(convs []domain.Conversation) {
	for i := range convs {
		convs[i].Messages = dropLoading(convs[i].Messages)
	}
	raw, err := json.Marshal(convs)
	if err != nil {
		s.logger.Error("serialize conversations", "err", err)
		return
	}
	if err := s.kv.Set(conversationsKey, string(raw)); err != nil {
		s.logger.Error("persist conversations", "err", err)
	}
}

// dropLoading strips transient placeholder messages so they never reach
// durable storage.
func dropLoading(msgs []domain.Message) []domain.Message {
	kept := make([]domain.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Type != domain.MessageLoading {
			kept = append(kept, m)
		}
	}
	return kept
}

func conversationMatches(conv domain.Conversation, lowerTerm string) bool {
	if strings.Contains(strings.ToLower(conv.Title), lowerTerm) {
		return true
	}
	for _, m := range conv.Messages {
		if text := m.Content.PlainText(); text != "" {
			if strings.Contains(strings.ToLower(text), lowerTerm) {
				return true
			}
		}
	}
	return false
}

func summarize(convs []domain.Conversation) []domain.ConversationSummary {
	summaries := make([]domain.ConversationSummary, 0, len(convs))
	for _, conv := range convs {
		summaries = append(summaries, domain.ConversationSummary{
			ID:          conv.ID,
			Title:       conv.Title,
			LastMessage: preview(conv.Messages),
			LastUpdated: conv.LastUpdated,
			CreatedAt:   conv.CreatedAt,
		})
	}
	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].LastUpdated.After(summaries[j].LastUpdated)
	})
	return summaries
}

// preview derives the sidebar snippet from the most recent message: the
// first 50 runes of plain text, a fixed marker for structured content.
func preview(msgs []domain.Message) string {
	if len(msgs) == 0 {
		return noMessagesPreview
	}
	last := msgs[len(msgs)-1]
	if last.Content.Kind != domain.ContentPlain {
		return structuredPreview
	}
	text := []rune(last.Content.Text)
	if len(text) > previewRunes {
		text = text[:previewRunes]
	}
	return string(text)
}
