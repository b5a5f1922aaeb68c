// Package exchange turns one user action into a persisted, UI-visible
// message exchange: it records the outgoing message, dispatches the
// analysis request, and folds the result or failure back into the
// conversation store. Expected failures resolve into ordinary data (a
// system message plus a transient notice); nothing above this boundary
// needs to catch an error during a normal send.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"docchat/internal/domain"
	"docchat/internal/integrations/analysis"
)

const sendFailureNotice = "Sorry, there was an error processing your request. Please try again."

// Test seams for deterministic ids and timestamps.
var (
	newID = uuid.NewString
	now   = time.Now
)

// ConversationStore is the persistence surface the exchange writes through.
type ConversationStore interface {
	AddMessage(conversationID string, msg domain.Message) domain.Conversation
}

// Analyzer is the external document-analysis capability.
type Analyzer interface {
	Analyze(ctx context.Context, req analysis.Request) (domain.AnalysisResponse, error)
}

// Notifier receives transient user-visible notices (the toast analog).
type Notifier interface {
	Notify(title, detail string)
}

// Status is the outcome of a send.
type Status string

const (
	// StatusResolved: the endpoint answered; the reply (which may carry a
	// logical error) was persisted.
	StatusResolved Status = "resolved"
	// StatusFailed: transport failure; a generic failure notice was
	// persisted and a notification emitted.
	StatusFailed Status = "failed"
	// StatusRejected: nothing to send (blank text, no staged file).
	StatusRejected Status = "rejected"
	// StatusBusy: a send for this conversation is already in flight.
	StatusBusy Status = "busy"
)

// SendResult is the discriminated outcome of a send.
type SendResult struct {
	Status       Status
	Conversation domain.Conversation
	UserMessage  domain.Message
	Reply        domain.Message
}

// Phase tracks the per-request placeholder lifecycle.
type Phase string

const (
	PhasePending  Phase = "pending"
	PhaseResolved Phase = "resolved"
	PhaseFailed   Phase = "failed"
)

// Event announces placeholder transitions so a front end can render the
// optimistic loading bubble. The placeholder message is never persisted.
type Event struct {
	Phase          Phase
	ConversationID string
	Placeholder    domain.Message
}

// Listener observes placeholder events. Invoked synchronously on the
// sending goroutine.
type Listener func(Event)

// Exchange orchestrates message sends. At most one send per conversation
// is in flight at a time; sends for distinct conversations may overlap.
type Exchange struct {
	store    ConversationStore
	analyzer Analyzer
	notifier Notifier
	logger   *slog.Logger
	listener Listener

	mu       sync.Mutex
	inFlight map[string]bool
	staged   *analysis.File
}

type Option func(*Exchange)

// WithListener registers a placeholder-lifecycle observer.
func WithListener(l Listener) Option {
	return func(e *Exchange) {
		e.listener = l
	}
}

// New creates an Exchange over the given capabilities. notifier may be nil.
func New(store ConversationStore, analyzer Analyzer, notifier Notifier, logger *slog.Logger, opts ...Option) (*Exchange, error) {
	if store == nil {
		return nil, errors.New("exchange: store must not be nil")
	}
	if analyzer == nil {
		return nil, errors.New("exchange: analyzer must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &Exchange{
		store:    store,
		analyzer: analyzer,
		notifier: notifier,
		logger:   logger,
		inFlight: map[string]bool{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// StageFile validates and stages a file for the next send. Rejections
// (non-PDF, over 10 MB) surface as a notice and leave nothing staged; the
// endpoint is never contacted. The returned error is the validation result
// for callers that branch on it.
func (e *Exchange) StageFile(f *analysis.File) error {
	if err := analysis.ValidateFile(f); err != nil {
		var vErr *analysis.ValidationError
		if errors.As(err, &vErr) {
			e.notify(vErr.Title, vErr.Detail)
		}
		return err
	}

	e.mu.Lock()
	e.staged = f
	e.mu.Unlock()

	e.notify("File ready to send", fmt.Sprintf("%s will be sent with your next message", f.Name))
	return nil
}

// ClearStagedFile discards the staged file, if any.
func (e *Exchange) ClearStagedFile() {
	e.mu.Lock()
	e.staged = nil
	e.mu.Unlock()
}

// StagedFile returns the currently staged file, or nil.
func (e *Exchange) StagedFile() *analysis.File {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.staged
}

// Send runs one exchange for the conversation: persist the user message,
// emit the pending placeholder, dispatch to the analysis endpoint (with the
// staged file attached, if any), then persist the reply or the failure
// notice. The result is always applied to the conversation the send was
// issued for, regardless of which conversation is active by the time the
// response arrives.
func (e *Exchange) Send(ctx context.Context, conversationID, text string) SendResult {
	text = strings.TrimSpace(text)

	e.mu.Lock()
	if e.inFlight[conversationID] {
		e.mu.Unlock()
		return SendResult{Status: StatusBusy}
	}
	staged := e.staged
	if text == "" && staged == nil {
		e.mu.Unlock()
		return SendResult{Status: StatusRejected}
	}
	e.inFlight[conversationID] = true
	// The send claims the staged file here, inside the critical section,
	// so a concurrent send in another conversation cannot attach it too.
	e.staged = nil
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.inFlight, conversationID)
		e.mu.Unlock()
	}()

	userText := text
	if userText == "" {
		userText = "Uploaded file: " + staged.Name
	}
	userMsg := newMessage(domain.MessageUser, domain.PlainContent(userText))
	conv := e.store.AddMessage(conversationID, userMsg)
	// AddMessage re-creates a conversation deleted mid-session; reconcile
	// against the id it actually landed in. The guard stays keyed by the
	// id the send was issued under.
	landedID := conv.ID

	placeholder := newMessage(domain.MessageLoading, domain.PlainContent(""))
	e.emit(Event{Phase: PhasePending, ConversationID: landedID, Placeholder: placeholder})

	req := analysis.Request{Message: text}
	if staged != nil {
		req.File = staged
	}
	resp, err := e.analyzer.Analyze(ctx, req)

	if err != nil {
		var remote *analysis.RemoteError
		if errors.As(err, &remote) {
			// Logical failure from the endpoint: rendered inline as an
			// error-bearing reply, not treated as exceptional.
			resp = domain.AnalysisResponse{Message: "Error", Error: remote.DisplayText()}
		} else {
			e.logger.Error("analysis request failed", "conversation", landedID, "err", err)
			reply := newMessage(domain.MessageSystem, domain.PlainContent(sendFailureNotice))
			conv = e.store.AddMessage(landedID, reply)
			e.emit(Event{Phase: PhaseFailed, ConversationID: landedID})
			e.notify("Error", "Failed to process your message. Please try again.")
			return SendResult{Status: StatusFailed, Conversation: conv, UserMessage: userMsg, Reply: reply}
		}
	}

	reply := newMessage(domain.MessageSystem, domain.AnalysisContent(resp))
	conv = e.store.AddMessage(landedID, reply)
	e.emit(Event{Phase: PhaseResolved, ConversationID: landedID})
	return SendResult{Status: StatusResolved, Conversation: conv, UserMessage: userMsg, Reply: reply}
}

func (e *Exchange) emit(ev Event) {
	if e.listener != nil {
		e.listener(ev)
	}
}

func (e *Exchange) notify(title, detail string) {
	if e.notifier != nil {
		e.notifier.Notify(title, detail)
	}
}

func newMessage(t domain.MessageType, c domain.Content) domain.Message {
	return domain.Message{ID: newID(), Type: t, Content: c, Timestamp: now()}
}
