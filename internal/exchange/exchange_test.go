package exchange

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"docchat/internal/domain"
	"docchat/internal/integrations/analysis"
)

type addCall struct {
	conversationID string
	msg            domain.Message
}

type fakeStore struct {
	mu    sync.Mutex
	convs map[string][]domain.Message
	calls []addCall
}

func newFakeStore() *fakeStore {
	return &fakeStore{convs: map[string][]domain.Message{}}
}

func (f *fakeStore) AddMessage(conversationID string, msg domain.Message) domain.Conversation {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.convs[conversationID] = append(f.convs[conversationID], msg)
	f.calls = append(f.calls, addCall{conversationID, msg})
	return domain.Conversation{
		ID:       conversationID,
		Messages: append([]domain.Message(nil), f.convs[conversationID]...),
	}
}

func (f *fakeStore) persisted(conversationID string) []domain.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Message(nil), f.convs[conversationID]...)
}

type fakeAnalyzer struct {
	mu       sync.Mutex
	resp     domain.AnalysisResponse
	err      error
	requests []analysis.Request

	entered chan struct{}
	release chan struct{}
}

func (f *fakeAnalyzer) Analyze(_ context.Context, req analysis.Request) (domain.AnalysisResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	return f.resp, f.err
}

func (f *fakeAnalyzer) captured() []analysis.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]analysis.Request(nil), f.requests...)
}

type fakeNotifier struct {
	mu      sync.Mutex
	notices []string
}

func (f *fakeNotifier) Notify(title, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices = append(f.notices, title+": "+detail)
}

func (f *fakeNotifier) all() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.notices...)
}

type recordedEvents struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordedEvents) listener() Listener {
	return func(ev Event) {
		r.mu.Lock()
		r.events = append(r.events, ev)
		r.mu.Unlock()
	}
}

func (r *recordedEvents) phases() []Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Phase, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Phase)
	}
	return out
}

func newTestExchange(t *testing.T, store ConversationStore, az Analyzer, n Notifier, opts ...Option) *Exchange {
	t.Helper()
	e, err := New(store, az, n, nil, opts...)
	require.NoError(t, err)
	return e
}

func pdfFile(name string, size int64) *analysis.File {
	return &analysis.File{Name: name, ContentType: "application/pdf", Size: size}
}

func TestNew_NilCapabilities(t *testing.T) {
	_, err := New(nil, &fakeAnalyzer{}, nil, nil)
	require.Error(t, err)
	_, err = New(newFakeStore(), nil, nil, nil)
	require.Error(t, err)
}

func TestSend_TextOnly_PersistsUserThenSystem(t *testing.T) {
	st := newFakeStore()
	az := &fakeAnalyzer{resp: domain.AnalysisResponse{Message: "hi there"}}
	ex := newTestExchange(t, st, az, nil)

	result := ex.Send(context.Background(), "conv-1", "hello")
	require.Equal(t, StatusResolved, result.Status)

	msgs := st.persisted("conv-1")
	require.Len(t, msgs, 2)
	require.Equal(t, domain.MessageUser, msgs[0].Type)
	require.Equal(t, "hello", msgs[0].Content.Text)
	require.Equal(t, domain.MessageSystem, msgs[1].Type)
	require.Equal(t, domain.ContentAnalysis, msgs[1].Content.Kind)
	require.Equal(t, "hi there", msgs[1].Content.Analysis.Message)

	// No loading message ever reached the store.
	for _, call := range st.calls {
		require.NotEqual(t, domain.MessageLoading, call.msg.Type)
	}

	reqs := az.captured()
	require.Len(t, reqs, 1)
	require.Equal(t, "hello", reqs[0].Message)
	require.Nil(t, reqs[0].File)
}

func TestSend_ErrorResponseRenderedAsErrorOnly(t *testing.T) {
	st := newFakeStore()
	az := &fakeAnalyzer{resp: domain.AnalysisResponse{
		Message:  "ok",
		Error:    "Bad PDF",
		Analysis: &domain.Analysis{Summary: "should be ignored"},
	}}
	ex := newTestExchange(t, st, az, nil)

	result := ex.Send(context.Background(), "conv-1", "analyze this")
	require.Equal(t, StatusResolved, result.Status)
	require.Equal(t, "Error: Bad PDF", FormatMessage(result.Reply))
}

func TestSend_TransportFailure(t *testing.T) {
	st := newFakeStore()
	az := &fakeAnalyzer{err: errors.New("connection refused")}
	n := &fakeNotifier{}
	events := &recordedEvents{}
	ex := newTestExchange(t, st, az, n, WithListener(events.listener()))

	var result SendResult
	require.NotPanics(t, func() {
		result = ex.Send(context.Background(), "conv-1", "hello")
	})
	require.Equal(t, StatusFailed, result.Status)

	msgs := st.persisted("conv-1")
	require.Len(t, msgs, 2)
	require.Equal(t, domain.MessageSystem, msgs[1].Type)
	require.Equal(t, sendFailureNotice, msgs[1].Content.Text)

	require.Equal(t, []string{"Error: Failed to process your message. Please try again."}, n.all())
	require.Equal(t, []Phase{PhasePending, PhaseFailed}, events.phases())
}

func TestSend_RemoteErrorStatusRenderedInline(t *testing.T) {
	st := newFakeStore()
	az := &fakeAnalyzer{err: &analysis.RemoteError{Message: "Document is encrypted"}}
	n := &fakeNotifier{}
	ex := newTestExchange(t, st, az, n)

	result := ex.Send(context.Background(), "conv-1", "hello")
	require.Equal(t, StatusResolved, result.Status)
	require.Equal(t, "Error: Document is encrypted", FormatMessage(result.Reply))
	require.Empty(t, n.all(), "logical failures are not exceptional, no notification")
}

func TestSend_PlaceholderLifecycle(t *testing.T) {
	st := newFakeStore()
	az := &fakeAnalyzer{resp: domain.AnalysisResponse{Message: "done"}}
	events := &recordedEvents{}
	ex := newTestExchange(t, st, az, nil, WithListener(events.listener()))

	ex.Send(context.Background(), "conv-1", "hello")

	require.Equal(t, []Phase{PhasePending, PhaseResolved}, events.phases())
	require.Equal(t, domain.MessageLoading, events.events[0].Placeholder.Type)
}

func TestSend_BlankWithNoStagedFileIsRejected(t *testing.T) {
	st := newFakeStore()
	ex := newTestExchange(t, st, &fakeAnalyzer{}, nil)

	result := ex.Send(context.Background(), "conv-1", "   ")
	require.Equal(t, StatusRejected, result.Status)
	require.Empty(t, st.calls)
}

func TestStageFile_AttachedToNextSendAndCleared(t *testing.T) {
	st := newFakeStore()
	az := &fakeAnalyzer{resp: domain.AnalysisResponse{Message: "analyzed"}}
	n := &fakeNotifier{}
	ex := newTestExchange(t, st, az, n)

	file := pdfFile("report.pdf", 1024)
	require.NoError(t, ex.StageFile(file))
	require.Same(t, file, ex.StagedFile())
	require.Equal(t, []string{"File ready to send: report.pdf will be sent with your next message"}, n.all())

	result := ex.Send(context.Background(), "conv-1", "what does this say?")
	require.Equal(t, StatusResolved, result.Status)

	reqs := az.captured()
	require.Len(t, reqs, 1)
	require.Same(t, file, reqs[0].File)
	require.Equal(t, "what does this say?", reqs[0].Message)
	require.Nil(t, ex.StagedFile(), "staged file consumed by the send")

	// Next send goes out without a file.
	ex.Send(context.Background(), "conv-1", "and now?")
	require.Nil(t, az.captured()[1].File)
}

func TestStageFile_ClearedAfterFailedSend(t *testing.T) {
	st := newFakeStore()
	az := &fakeAnalyzer{err: errors.New("boom")}
	ex := newTestExchange(t, st, az, nil)

	require.NoError(t, ex.StageFile(pdfFile("report.pdf", 1024)))
	result := ex.Send(context.Background(), "conv-1", "go")
	require.Equal(t, StatusFailed, result.Status)
	require.Nil(t, ex.StagedFile())
}

func TestSend_FileOnlyRecordsUploadMessage(t *testing.T) {
	st := newFakeStore()
	az := &fakeAnalyzer{resp: domain.AnalysisResponse{Message: "analyzed"}}
	ex := newTestExchange(t, st, az, nil)

	require.NoError(t, ex.StageFile(pdfFile("scan.pdf", 512)))
	result := ex.Send(context.Background(), "conv-1", "")
	require.Equal(t, StatusResolved, result.Status)

	msgs := st.persisted("conv-1")
	require.Equal(t, "Uploaded file: scan.pdf", msgs[0].Content.Text)
}

func TestStageFile_RejectsOversizedBeforeAnyNetworkCall(t *testing.T) {
	st := newFakeStore()
	az := &fakeAnalyzer{}
	n := &fakeNotifier{}
	ex := newTestExchange(t, st, az, n)

	err := ex.StageFile(pdfFile("big.pdf", 12*1024*1024))
	var vErr *analysis.ValidationError
	require.ErrorAs(t, err, &vErr)
	require.Equal(t, "File too large", vErr.Title)

	require.Nil(t, ex.StagedFile())
	require.Empty(t, az.captured())
	require.Equal(t, []string{"File too large: Please upload a file smaller than 10MB"}, n.all())
}

func TestStageFile_RejectsNonPDF(t *testing.T) {
	ex := newTestExchange(t, newFakeStore(), &fakeAnalyzer{}, nil)

	err := ex.StageFile(&analysis.File{Name: "notes.txt", ContentType: "text/plain", Size: 10})
	var vErr *analysis.ValidationError
	require.ErrorAs(t, err, &vErr)
	require.Equal(t, "Invalid file type", vErr.Title)
	require.Nil(t, ex.StagedFile())
}

func TestStageFile_ClaimedByExactlyOneSend(t *testing.T) {
	st := newFakeStore()
	az := &fakeAnalyzer{
		resp:    domain.AnalysisResponse{Message: "ok"},
		entered: make(chan struct{}, 2),
		release: make(chan struct{}),
	}
	ex := newTestExchange(t, st, az, nil)

	file := pdfFile("report.pdf", 1024)
	require.NoError(t, ex.StageFile(file))

	done := make(chan SendResult, 1)
	go func() {
		done <- ex.Send(context.Background(), "conv-a", "with the file")
	}()
	waitEntered(t, az.entered)
	require.Nil(t, ex.StagedFile(), "the in-flight send owns the file")

	other := make(chan SendResult, 1)
	go func() {
		other <- ex.Send(context.Background(), "conv-b", "no file for me")
	}()
	waitEntered(t, az.entered)

	close(az.release)
	<-done
	<-other

	var withFile int
	for _, req := range az.captured() {
		if req.File != nil {
			require.Same(t, file, req.File)
			require.Equal(t, "with the file", req.Message)
			withFile++
		}
	}
	require.Equal(t, 1, withFile, "exactly one send carries the staged file")
}

func TestClearStagedFile(t *testing.T) {
	ex := newTestExchange(t, newFakeStore(), &fakeAnalyzer{}, nil)
	require.NoError(t, ex.StageFile(pdfFile("report.pdf", 1024)))
	ex.ClearStagedFile()
	require.Nil(t, ex.StagedFile())
}

func TestSend_BusyPerConversation(t *testing.T) {
	st := newFakeStore()
	az := &fakeAnalyzer{
		resp:    domain.AnalysisResponse{Message: "slow answer"},
		entered: make(chan struct{}, 2),
		release: make(chan struct{}),
	}
	ex := newTestExchange(t, st, az, nil)

	done := make(chan SendResult, 1)
	go func() {
		done <- ex.Send(context.Background(), "conv-a", "slow one")
	}()
	waitEntered(t, az.entered)

	// Second send for the same conversation is refused outright.
	busy := ex.Send(context.Background(), "conv-a", "impatient")
	require.Equal(t, StatusBusy, busy.Status)

	// A different conversation proceeds concurrently.
	other := make(chan SendResult, 1)
	go func() {
		other <- ex.Send(context.Background(), "conv-b", "parallel")
	}()
	waitEntered(t, az.entered)

	close(az.release)
	first := <-done
	second := <-other
	require.Equal(t, StatusResolved, first.Status)
	require.Equal(t, StatusResolved, second.Status)

	// The busy attempt left no trace in the store.
	require.Len(t, st.persisted("conv-a"), 2)
	require.Len(t, st.persisted("conv-b"), 2)
}

func TestSend_AppliesToOriginConversationAfterActiveSwitch(t *testing.T) {
	st := newFakeStore()
	az := &fakeAnalyzer{
		resp:    domain.AnalysisResponse{Message: "late answer"},
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	ex := newTestExchange(t, st, az, nil)

	done := make(chan SendResult, 1)
	go func() {
		done <- ex.Send(context.Background(), "conv-a", "hello from a")
	}()
	waitEntered(t, az.entered)

	// The user switches to another conversation while the request is in
	// flight. The late-arriving result still lands in conv-a.
	close(az.release)
	result := <-done
	require.Equal(t, StatusResolved, result.Status)
	require.Equal(t, "conv-a", result.Conversation.ID)

	msgs := st.persisted("conv-a")
	require.Len(t, msgs, 2)
	require.Equal(t, "late answer", msgs[1].Content.Analysis.Message)
	require.Empty(t, st.persisted("conv-b"))
}

func waitEntered(t *testing.T, entered chan struct{}) {
	t.Helper()
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("analyzer was not reached")
	}
}
