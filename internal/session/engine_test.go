// ABOUTME: Tests for the session engine: bootstrap/resume, serialized turns,
// ABOUTME: optimistic appends, payment completion and the one-shot popup.

package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jiffylabs/quotechat/internal/agents"
	"github.com/jiffylabs/quotechat/internal/backend"
	"github.com/jiffylabs/quotechat/internal/config"
	"github.com/jiffylabs/quotechat/internal/store"
)

type fakeBackend struct {
	mu sync.Mutex

	session      *backend.Session
	getErr       error
	history      []backend.Message
	welcome      backend.Message
	welcomeCalls int

	chatResp  *backend.ChatResponse
	chatErr   error
	chatCalls int
	chatGate  chan struct{}

	patches []map[string]any

	payResult *backend.PaymentResult
	payErr    error

	docData []byte
	docErr  error
}

func (f *fakeBackend) CreateSession(_ context.Context, _ string) (*backend.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.session == nil {
		f.session = &backend.Session{
			ID:           "sess-1",
			CurrentAgent: "orchestrator",
			State:        backend.State{},
		}
	}
	s := *f.session
	return &s, nil
}

func (f *fakeBackend) GetSession(_ context.Context, sessionID string) (*backend.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.session == nil || f.session.ID != sessionID {
		return nil, backend.ErrSessionNotFound
	}
	s := *f.session
	return &s, nil
}

func (f *fakeBackend) ListMessages(_ context.Context, _ string) ([]backend.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]backend.Message(nil), f.history...), nil
}

func (f *fakeBackend) WelcomeMessage(_ context.Context, _ string) (*backend.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.welcomeCalls++
	w := f.welcome
	if w.Content == "" {
		w = backend.Message{ID: "welcome-1", Role: backend.RoleAssistant, Content: "Hi! Let's get you a quote.", Agent: "orchestrator"}
	}
	return &w, nil
}

func (f *fakeBackend) SendChat(ctx context.Context, _, content, quickReplyValue string) (*backend.ChatResponse, error) {
	f.mu.Lock()
	f.chatCalls++
	gate := f.chatGate
	resp, err := f.chatResp, f.chatErr
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if resp == nil {
		resp = &backend.ChatResponse{
			Message: backend.Message{
				ID: "reply-1", Role: backend.RoleAssistant,
				Content: "echo: " + content, Agent: "intake",
			},
			State:        backend.State{"last_value": quickReplyValue},
			CurrentAgent: "intake",
		}
	}
	r := *resp
	return &r, nil
}

func (f *fakeBackend) PatchState(_ context.Context, _ string, patch map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patches = append(f.patches, patch)
	return nil
}

func (f *fakeBackend) ProcessPayment(_ context.Context, _, _ string, _ float64) (*backend.PaymentResult, error) {
	if f.payErr != nil {
		return nil, f.payErr
	}
	return f.payResult, nil
}

func (f *fakeBackend) FetchDocument(_ context.Context, _ string) ([]byte, error) {
	if f.docErr != nil {
		return nil, f.docErr
	}
	return f.docData, nil
}

func setupEngine(t *testing.T, fb *fakeBackend) *Engine {
	t.Helper()
	return New(Options{
		Backend:     fb,
		Delays:      config.DelaysConfig{},
		UserAgent:   "quotechat-test/1.0",
		DownloadDir: t.TempDir(),
	})
}

func TestEngine_Bootstrap_FreshSessionSeedsWelcome(t *testing.T) {
	fb := &fakeBackend{}
	e := setupEngine(t, fb)

	require.NoError(t, e.Bootstrap(context.Background(), ""))

	assert.Equal(t, "sess-1", e.SessionID())
	history := e.History()
	require.Len(t, history, 1)
	assert.Equal(t, backend.RoleAssistant, history[0].Role)
	assert.Equal(t, 1, fb.welcomeCalls)
	assert.Equal(t, agents.Orchestrator, e.Tracker().Current())
	assert.Empty(t, e.Tracker().Completed())
}

func TestEngine_Bootstrap_ResumeRebuildsProgress(t *testing.T) {
	fb := &fakeBackend{
		session: &backend.Session{
			ID:           "sess-9",
			CurrentAgent: "pricing",
			State:        backend.State{"final_premium": 880.0},
		},
		history: []backend.Message{
			{Role: backend.RoleUser, Content: "hi"},
			{Role: backend.RoleAssistant, Agent: "orchestrator"},
			{Role: backend.RoleAssistant, Agent: "intake"},
			{Role: backend.RoleAssistant, Agent: "intake"},
			{Role: backend.RoleAssistant, Agent: "coverage"},
		},
	}
	e := setupEngine(t, fb)

	require.NoError(t, e.Bootstrap(context.Background(), "sess-9"))

	assert.Len(t, e.History(), 5)
	assert.Zero(t, fb.welcomeCalls)
	tr := e.Tracker()
	assert.Equal(t, agents.Pricing, tr.Current())
	assert.Equal(t, []agents.ID{agents.Orchestrator, agents.Intake, agents.Coverage}, tr.Completed())
	assert.Equal(t, 880.0, e.State().Float(backend.StateKeyFinalPremium))
}

func TestEngine_Bootstrap_ResumeEmptyHistorySeedsWelcome(t *testing.T) {
	fb := &fakeBackend{
		session: &backend.Session{ID: "sess-9", CurrentAgent: "orchestrator"},
	}
	e := setupEngine(t, fb)

	require.NoError(t, e.Bootstrap(context.Background(), "sess-9"))
	assert.Len(t, e.History(), 1)
	assert.Equal(t, 1, fb.welcomeCalls)
}

func TestEngine_Bootstrap_MissingResumeClearsMarker(t *testing.T) {
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()
	require.NoError(t, s.SaveSession(ctx, &store.SessionRecord{ID: "gone"}))
	require.NoError(t, s.SetCurrent(ctx, "gone"))

	fb := &fakeBackend{}
	e := New(Options{Backend: fb, Recents: s})

	err = e.Bootstrap(ctx, "gone")
	require.ErrorIs(t, err, backend.ErrSessionNotFound)

	_, err = s.Current(ctx)
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Starting over with a fresh session works.
	require.NoError(t, e.Bootstrap(ctx, ""))
	current, err := s.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", current.ID)
}

func TestEngine_Submit_AppendsTwoAndReplacesState(t *testing.T) {
	// The pre-existing state key must vanish on wholesale replace.
	fb := &fakeBackend{
		session: &backend.Session{
			ID:           "sess-1",
			CurrentAgent: "orchestrator",
			State:        backend.State{"stale_key": true},
		},
	}
	e := setupEngine(t, fb)
	ctx := context.Background()
	require.NoError(t, e.Bootstrap(ctx, ""))
	require.True(t, e.State().Bool("stale_key"))
	before := len(e.History())

	msg, err := e.Submit(ctx, "SGX1234A", "")
	require.NoError(t, err)

	history := e.History()
	require.Len(t, history, before+2)
	assert.Equal(t, backend.RoleUser, history[len(history)-2].Role)
	assert.Equal(t, "SGX1234A", history[len(history)-2].Content)
	assert.NotEmpty(t, history[len(history)-2].ID)
	assert.Equal(t, backend.RoleAssistant, history[len(history)-1].Role)
	assert.Equal(t, msg.Content, history[len(history)-1].Content)

	state := e.State()
	assert.NotContains(t, state, "stale_key")
	assert.Equal(t, agents.Intake, e.Tracker().Current())
	assert.True(t, e.Tracker().IsCompleted(agents.Intake))
}

func TestEngine_Submit_FailureKeepsOptimisticAppend(t *testing.T) {
	fb := &fakeBackend{chatErr: errors.New("backend down")}
	e := setupEngine(t, fb)
	ctx := context.Background()
	require.NoError(t, e.Bootstrap(ctx, ""))
	before := len(e.History())

	_, err := e.Submit(ctx, "hello", "")
	require.Error(t, err)

	history := e.History()
	require.Len(t, history, before+1)
	assert.Equal(t, backend.RoleUser, history[len(history)-1].Role)
	assert.Equal(t, "hello", history[len(history)-1].Content)

	// The failed turn must not leave the engine stuck in flight.
	fb.mu.Lock()
	fb.chatErr = nil
	fb.mu.Unlock()
	_, err = e.Submit(ctx, "again", "")
	require.NoError(t, err)
}

func TestEngine_Submit_SerializesTurns(t *testing.T) {
	gate := make(chan struct{})
	fb := &fakeBackend{chatGate: gate}
	e := setupEngine(t, fb)
	ctx := context.Background()
	require.NoError(t, e.Bootstrap(ctx, ""))

	done := make(chan error, 1)
	go func() {
		_, err := e.Submit(ctx, "first", "")
		done <- err
	}()

	require.Eventually(t, func() bool {
		fb.mu.Lock()
		defer fb.mu.Unlock()
		return fb.chatCalls == 1
	}, time.Second, 5*time.Millisecond)

	_, err := e.Submit(ctx, "second", "")
	assert.ErrorIs(t, err, ErrTurnInFlight)

	close(gate)
	require.NoError(t, <-done)

	// After the first turn lands, submission reopens.
	fb.mu.Lock()
	fb.chatGate = nil
	fb.mu.Unlock()
	_, err = e.Submit(ctx, "third", "")
	require.NoError(t, err)
}

func TestEngine_Submit_PaymentTriggerShortCircuits(t *testing.T) {
	fb := &fakeBackend{}
	e := setupEngine(t, fb)
	ctx := context.Background()
	require.NoError(t, e.Bootstrap(ctx, ""))
	before := len(e.History())

	_, err := e.Submit(ctx, "Proceed to Payment", PaymentTriggerValue)
	assert.ErrorIs(t, err, ErrPaymentRequested)
	assert.Len(t, e.History(), before)
	assert.Zero(t, fb.chatCalls)
	assert.True(t, IsPaymentTrigger(PaymentTriggerValue))
	assert.False(t, IsPaymentTrigger("comprehensive"))
}

func TestEngine_Submit_BeforeBootstrap(t *testing.T) {
	e := setupEngine(t, &fakeBackend{})
	_, err := e.Submit(context.Background(), "hi", "")
	assert.ErrorIs(t, err, ErrNotBootstrapped)
}

func TestEngine_Submit_RejectsBlankInput(t *testing.T) {
	fb := &fakeBackend{}
	e := setupEngine(t, fb)
	ctx := context.Background()
	require.NoError(t, e.Bootstrap(ctx, ""))
	before := len(e.History())

	_, err := e.Submit(ctx, "   ", "")
	assert.ErrorIs(t, err, ErrEmptyTurn)
	assert.Len(t, e.History(), before, "blank input must not reach the transcript")
	assert.Zero(t, fb.chatCalls)
}

func TestEngine_Submit_TrimsAndFallsBackToQuickReply(t *testing.T) {
	fb := &fakeBackend{}
	e := setupEngine(t, fb)
	ctx := context.Background()
	require.NoError(t, e.Bootstrap(ctx, ""))

	_, err := e.Submit(ctx, "  hi there  ", "")
	require.NoError(t, err)
	history := e.History()
	assert.Equal(t, "hi there", history[len(history)-2].Content)

	_, err = e.Submit(ctx, "   ", "comprehensive")
	require.NoError(t, err)
	history = e.History()
	assert.Equal(t, "comprehensive", history[len(history)-2].Content)
}

func TestEngine_State_ReturnsCopy(t *testing.T) {
	fb := &fakeBackend{
		session: &backend.Session{
			ID:           "sess-1",
			CurrentAgent: "orchestrator",
			State:        backend.State{"plan_name": "Comprehensive"},
		},
	}
	e := setupEngine(t, fb)
	require.NoError(t, e.Bootstrap(context.Background(), ""))

	e.State()["plan_name"] = "tampered"
	e.State()["extra"] = true

	state := e.State()
	assert.Equal(t, "Comprehensive", state.String(backend.StateKeyPlanName))
	assert.NotContains(t, state, "extra")
}

func TestEngine_ToggleAddon_PatchesAndMerges(t *testing.T) {
	fb := &fakeBackend{}
	e := setupEngine(t, fb)
	ctx := context.Background()
	require.NoError(t, e.Bootstrap(ctx, ""))

	require.NoError(t, e.ToggleAddon(ctx, "roadside", true))

	require.Len(t, fb.patches, 1)
	assert.Equal(t, map[string]any{"addon_roadside": true}, fb.patches[0])
	assert.True(t, e.State().Bool("addon_roadside"))
	assert.Len(t, e.History(), 1, "patches must not touch the transcript")
}

func TestEngine_CompletePayment_ExactlyOneSyntheticTurn(t *testing.T) {
	fb := &fakeBackend{
		chatResp: &backend.ChatResponse{
			Message: backend.Message{
				ID: "closing-1", Role: backend.RoleAssistant,
				Content: "Congratulations, you're covered!", Agent: "document",
				ShowPolicyPopup: true,
			},
			State:        backend.State{"policy_number": "POL-7", "payment_completed": true},
			CurrentAgent: "document",
		},
	}
	e := setupEngine(t, fb)
	ctx := context.Background()
	require.NoError(t, e.Bootstrap(ctx, ""))
	before := len(e.History())

	result := &backend.PaymentResult{Success: true, PaymentReference: "PAY-7", PolicyNumber: "POL-7"}
	require.NoError(t, e.CompletePayment(ctx, "paynow", result))

	history := e.History()
	require.Len(t, history, before+2)
	closing := history[len(history)-2]
	assert.Equal(t, backend.RoleUser, closing.Role)
	assert.Equal(t, "Payment Completed", closing.Content)
	assert.True(t, e.Tracker().IsCompleted(agents.Payment))
	assert.True(t, e.Tracker().IsCompleted(agents.Document))
	assert.Equal(t, agents.Document, e.Tracker().Current())

	state := e.State()
	assert.True(t, state.Bool(backend.StateKeyPaymentCompleted))
	assert.True(t, state.Bool(backend.StateKeyDocumentsReady))
	assert.Equal(t, "paynow", state.String(backend.StateKeyPaymentMethod))
	assert.Equal(t, "PAY-7", state.String(backend.StateKeyPaymentReference))
	assert.Equal(t, "POL-7", state.String(backend.StateKeyPolicyNumber))

	// Replays are no-ops.
	require.NoError(t, e.CompletePayment(ctx, "paynow", result))
	assert.Len(t, e.History(), before+2)
	assert.Equal(t, 1, fb.chatCalls)
}

func TestEngine_CompletePayment_OverridesReplyAgentAndState(t *testing.T) {
	// The closing turn's reply names a different agent and drops the payment
	// keys; the payment facts still win.
	fb := &fakeBackend{
		chatResp: &backend.ChatResponse{
			Message: backend.Message{
				ID: "closing-2", Role: backend.RoleAssistant,
				Content: "Anything else?", Agent: "orchestrator",
			},
			State:        backend.State{},
			CurrentAgent: "orchestrator",
		},
	}
	e := setupEngine(t, fb)
	ctx := context.Background()
	require.NoError(t, e.Bootstrap(ctx, ""))

	result := &backend.PaymentResult{Success: true, PaymentReference: "PAY-9", PolicyNumber: "POL-9"}
	require.NoError(t, e.CompletePayment(ctx, "grabpay", result))

	assert.Equal(t, agents.Document, e.Tracker().Current())
	assert.True(t, e.Tracker().IsCompleted(agents.Payment))
	assert.True(t, e.Tracker().IsCompleted(agents.Document))

	state := e.State()
	assert.True(t, state.Bool(backend.StateKeyDocumentsReady))
	assert.True(t, state.Bool(backend.StateKeyPaymentCompleted))
	assert.Equal(t, "grabpay", state.String(backend.StateKeyPaymentMethod))
	assert.Equal(t, "POL-9", state.String(backend.StateKeyPolicyNumber))
}

func TestEngine_CompletePayment_FailedTurnAllowsRetry(t *testing.T) {
	fb := &fakeBackend{chatErr: errors.New("backend down")}
	e := setupEngine(t, fb)
	ctx := context.Background()
	require.NoError(t, e.Bootstrap(ctx, ""))

	result := &backend.PaymentResult{Success: true, PaymentReference: "PAY-8"}
	require.Error(t, e.CompletePayment(ctx, "card", result))

	fb.mu.Lock()
	fb.chatErr = nil
	fb.mu.Unlock()
	require.NoError(t, e.CompletePayment(ctx, "card", result))
	assert.Equal(t, 2, fb.chatCalls)
}

func TestEngine_CompletePayment_RejectsFailure(t *testing.T) {
	e := setupEngine(t, &fakeBackend{})
	require.NoError(t, e.Bootstrap(context.Background(), ""))

	err := e.CompletePayment(context.Background(), "card", &backend.PaymentResult{Success: false})
	assert.Error(t, err)
	err = e.CompletePayment(context.Background(), "card", nil)
	assert.Error(t, err)
}

func TestEngine_NewPaymentFlow_UsesFinalPremium(t *testing.T) {
	fb := &fakeBackend{
		session: &backend.Session{
			ID:           "sess-9",
			CurrentAgent: "payment",
			State:        backend.State{"final_premium": 930.5},
		},
		history: []backend.Message{{Role: backend.RoleAssistant, Agent: "pricing"}},
	}
	e := setupEngine(t, fb)
	require.NoError(t, e.Bootstrap(context.Background(), "sess-9"))

	flow, err := e.NewPaymentFlow(nil)
	require.NoError(t, err)
	assert.Equal(t, 930.5, flow.Amount())
}

func TestEngine_ShouldShowPopup_OncePerPolicy(t *testing.T) {
	fb := &fakeBackend{
		chatResp: &backend.ChatResponse{
			Message: backend.Message{
				ID: "closing-1", Role: backend.RoleAssistant,
				Agent: "document", ShowPolicyPopup: true,
			},
			State:        backend.State{"policy_number": "POL-9"},
			CurrentAgent: "document",
		},
	}
	e := setupEngine(t, fb)
	ctx := context.Background()
	require.NoError(t, e.Bootstrap(ctx, ""))

	msg, err := e.Submit(ctx, "Payment Completed", "payment_completed")
	require.NoError(t, err)

	assert.True(t, e.ShouldShowPopup(msg))
	assert.False(t, e.ShouldShowPopup(msg), "popup is one-shot per policy")
	assert.False(t, e.ShouldShowPopup(&backend.Message{ID: "plain", ShowPolicyPopup: false}))
}

func TestEngine_DownloadDocument_NamesAfterPolicy(t *testing.T) {
	dir := t.TempDir()
	fb := &fakeBackend{
		session: &backend.Session{
			ID:           "sess-9",
			CurrentAgent: "document",
			State:        backend.State{"policy_number": "POL-2026-0042"},
		},
		history: []backend.Message{{Role: backend.RoleAssistant, Agent: "document"}},
		docData: []byte("%PDF-1.4 fake"),
	}
	e := New(Options{Backend: fb, DownloadDir: dir})
	ctx := context.Background()
	require.NoError(t, e.Bootstrap(ctx, "sess-9"))

	path, err := e.DownloadDocument(ctx)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "policy_POL-2026-0042.pdf"), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.4 fake"), data)
}

func TestEngine_DownloadDocument_FallbackName(t *testing.T) {
	dir := t.TempDir()
	fb := &fakeBackend{docData: []byte("%PDF-1.4")}
	e := New(Options{Backend: fb, DownloadDir: dir})
	ctx := context.Background()
	require.NoError(t, e.Bootstrap(ctx, ""))

	path, err := e.DownloadDocument(ctx)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "policy_document.pdf"), path)
}
