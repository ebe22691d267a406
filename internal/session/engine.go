// ABOUTME: Session orchestrator: bootstrap/resume, serialized turn submission,
// ABOUTME: payment completion folding and the one-shot completion popup.

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jiffylabs/quotechat/internal/agents"
	"github.com/jiffylabs/quotechat/internal/backend"
	"github.com/jiffylabs/quotechat/internal/config"
	"github.com/jiffylabs/quotechat/internal/dedupe"
	"github.com/jiffylabs/quotechat/internal/notify"
	"github.com/jiffylabs/quotechat/internal/payment"
	"github.com/jiffylabs/quotechat/internal/store"
)

// PaymentTriggerValue is the quick-reply value that opens the payment
// sub-flow instead of sending a chat turn.
const PaymentTriggerValue = "open_payment_gateway"

// Synthetic closing turn sent after a successful payment.
const (
	paymentCompletedContent = "Payment Completed"
	paymentCompletedValue   = "payment_completed"
)

var (
	// ErrTurnInFlight is returned by Submit while another turn is being
	// processed.
	ErrTurnInFlight = errors.New("a turn is already in flight")

	// ErrNotBootstrapped is returned when an operation needs a session and
	// Bootstrap hasn't succeeded yet.
	ErrNotBootstrapped = errors.New("session not bootstrapped")

	// ErrPaymentRequested is returned by Submit for the payment trigger
	// quick reply. No turn is sent; the caller opens the payment flow.
	ErrPaymentRequested = errors.New("payment flow requested")

	// ErrEmptyTurn is returned by Submit when there is nothing to send:
	// whitespace-only content and no quick-reply value.
	ErrEmptyTurn = errors.New("nothing to send")
)

// Backend is the slice of the REST client the engine needs.
// *backend.Client satisfies it.
type Backend interface {
	CreateSession(ctx context.Context, userAgent string) (*backend.Session, error)
	GetSession(ctx context.Context, sessionID string) (*backend.Session, error)
	ListMessages(ctx context.Context, sessionID string) ([]backend.Message, error)
	WelcomeMessage(ctx context.Context, sessionID string) (*backend.Message, error)
	SendChat(ctx context.Context, sessionID, content, quickReplyValue string) (*backend.ChatResponse, error)
	PatchState(ctx context.Context, sessionID string, patch map[string]any) error
	ProcessPayment(ctx context.Context, sessionID, method string, amount float64) (*backend.PaymentResult, error)
	FetchDocument(ctx context.Context, sessionID string) ([]byte, error)
}

// Options configures an Engine. Backend is required; the rest have working
// zero values (Recents may be nil to disable local persistence).
type Options struct {
	Backend     Backend
	Hub         *notify.Hub
	Recents     store.Store
	Delays      config.DelaysConfig
	UserAgent   string
	DownloadDir string
}

// Engine orchestrates one conversation. All exported methods are safe for
// concurrent use; turn submission is serialized, never queued.
type Engine struct {
	backend     Backend
	hub         *notify.Hub
	recents     store.Store
	delays      config.DelaysConfig
	userAgent   string
	downloadDir string
	logger      *slog.Logger

	popupGuard *dedupe.Guard
	turnGuard  *dedupe.Guard

	mu       sync.Mutex
	session  *backend.Session
	history  []backend.Message
	tracker  *agents.Tracker
	inFlight bool
}

// New creates an engine. No network traffic happens until Bootstrap.
func New(opts Options) *Engine {
	hub := opts.Hub
	if hub == nil {
		hub = notify.NewHub()
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = "quotechat/1.0"
	}
	return &Engine{
		backend:     opts.Backend,
		hub:         hub,
		recents:     opts.Recents,
		delays:      opts.Delays,
		userAgent:   userAgent,
		downloadDir: opts.DownloadDir,
		logger:      slog.Default().With("component", "session"),
		popupGuard:  dedupe.NewGuard(0),
		turnGuard:   dedupe.NewGuard(0),
	}
}

// Bootstrap prepares the conversation. With a resumeID it fetches the
// existing session and rebuilds progress from its history; an unknown id
// clears the local resume marker and returns backend.ErrSessionNotFound so
// the caller can start over with an empty resumeID. Without a resumeID it
// creates a fresh session. Either way an empty transcript is seeded with the
// backend's welcome message.
func (e *Engine) Bootstrap(ctx context.Context, resumeID string) error {
	var (
		session *backend.Session
		history []backend.Message
		err     error
	)

	if resumeID != "" {
		session, err = e.backend.GetSession(ctx, resumeID)
		if errors.Is(err, backend.ErrSessionNotFound) {
			e.logger.Warn("resume session gone, clearing marker", "session_id", resumeID)
			e.clearRecentMarker(ctx)
			return fmt.Errorf("resuming session %s: %w", resumeID, err)
		}
		if err != nil {
			return fmt.Errorf("resuming session: %w", err)
		}
		history, err = e.backend.ListMessages(ctx, session.ID)
		if err != nil {
			return fmt.Errorf("loading history: %w", err)
		}
	} else {
		session, err = e.backend.CreateSession(ctx, e.userAgent)
		if err != nil {
			return fmt.Errorf("creating session: %w", err)
		}
	}

	if len(history) == 0 {
		welcome, err := e.backend.WelcomeMessage(ctx, session.ID)
		if err != nil {
			return fmt.Errorf("seeding welcome message: %w", err)
		}
		history = append(history, *welcome)
	}

	current := agents.ID(session.CurrentAgent)
	if current == "" {
		current = agents.Orchestrator
	}
	if session.State == nil {
		session.State = backend.State{}
	}

	e.mu.Lock()
	e.session = session
	e.history = history
	e.tracker = agents.RebuildFromHistory(history, current)
	e.inFlight = false
	e.mu.Unlock()

	e.logger.Info("session ready",
		"session_id", session.ID,
		"resumed", resumeID != "",
		"messages", len(history),
		"current_agent", session.CurrentAgent)

	e.persistRecent(ctx)
	return nil
}

// SessionID returns the backend session id, or "" before Bootstrap.
func (e *Engine) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return ""
	}
	return e.session.ID
}

// State returns a copy of the authoritative session state as last reported.
func (e *Engine) State() backend.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := backend.State{}
	if e.session == nil {
		return out
	}
	for k, v := range e.session.State {
		out[k] = v
	}
	return out
}

// History returns a copy of the transcript.
func (e *Engine) History() []backend.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]backend.Message, len(e.history))
	copy(out, e.history)
	return out
}

// Tracker returns the pipeline tracker. Nil before Bootstrap.
func (e *Engine) Tracker() *agents.Tracker {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tracker
}

// IsPaymentTrigger reports whether a quick-reply value opens the payment
// flow instead of sending a turn.
func IsPaymentTrigger(value string) bool {
	return value == PaymentTriggerValue
}

// Submit sends one user turn. Content is trimmed; when it trims to nothing
// the quick-reply value stands in, and when both are empty nothing is sent
// (ErrEmptyTurn). The user message is appended to the transcript before the
// network call and stays there even if the call fails. On success the
// assistant reply is appended after the typing-reveal delay and the session
// state and current agent are replaced with the response's values. Exactly
// one turn runs at a time; concurrent calls get ErrTurnInFlight.
func (e *Engine) Submit(ctx context.Context, content, quickReplyValue string) (*backend.Message, error) {
	if IsPaymentTrigger(quickReplyValue) {
		return nil, ErrPaymentRequested
	}
	content = strings.TrimSpace(content)
	if content == "" {
		content = quickReplyValue
	}
	if content == "" {
		return nil, ErrEmptyTurn
	}

	e.mu.Lock()
	if e.session == nil {
		e.mu.Unlock()
		return nil, ErrNotBootstrapped
	}
	if e.inFlight {
		e.mu.Unlock()
		return nil, ErrTurnInFlight
	}
	e.inFlight = true
	sessionID := e.session.ID
	userMsg := backend.Message{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Role:      backend.RoleUser,
		Content:   content,
		CreatedAt: time.Now(),
	}
	e.history = append(e.history, userMsg)
	e.mu.Unlock()

	e.hub.Publish(notify.Event{Kind: notify.KindTurnStarted, Text: content})

	resp, err := e.backend.SendChat(ctx, sessionID, content, quickReplyValue)
	if err != nil {
		e.mu.Lock()
		e.inFlight = false
		e.mu.Unlock()
		// The optimistic user message stays in the transcript.
		return nil, fmt.Errorf("submitting turn: %w", err)
	}

	// Hold the reply back briefly so the typing indicator is visible even
	// on instant responses. Additive, on top of the network time.
	if err := sleepCtx(ctx, e.delays.TypingReveal); err != nil {
		e.mu.Lock()
		e.inFlight = false
		e.mu.Unlock()
		return nil, err
	}

	newState := resp.State
	if newState == nil {
		newState = backend.State{}
	}

	e.mu.Lock()
	previousAgent := e.tracker.Current()
	e.history = append(e.history, resp.Message)
	e.session.State = newState
	e.session.CurrentAgent = resp.CurrentAgent
	e.tracker.Advance(agents.ID(resp.CurrentAgent))
	e.inFlight = false
	msg := resp.Message
	e.mu.Unlock()

	if agents.ID(resp.CurrentAgent) != previousAgent {
		e.hub.Publish(notify.Event{Kind: notify.KindAgentChanged, Agent: resp.CurrentAgent})
	}
	e.hub.Publish(notify.Event{Kind: notify.KindTurnCompleted, Agent: msg.Agent})

	e.persistRecent(ctx)
	return &msg, nil
}

// PatchState applies a partial state patch (add-on toggles) and merges it
// into the local state copy. Patches don't touch the transcript.
func (e *Engine) PatchState(ctx context.Context, patch map[string]any) error {
	e.mu.Lock()
	if e.session == nil {
		e.mu.Unlock()
		return ErrNotBootstrapped
	}
	sessionID := e.session.ID
	e.mu.Unlock()

	if err := e.backend.PatchState(ctx, sessionID, patch); err != nil {
		return err
	}

	e.mu.Lock()
	for k, v := range patch {
		e.session.State[k] = v
	}
	e.mu.Unlock()
	return nil
}

// ToggleAddon flips one add-on selection on the backend.
func (e *Engine) ToggleAddon(ctx context.Context, addonID string, selected bool) error {
	if err := e.PatchState(ctx, map[string]any{"addon_" + addonID: selected}); err != nil {
		return fmt.Errorf("toggling add-on %s: %w", addonID, err)
	}
	e.hub.Toast("Coverage updated")
	return nil
}

// NewPaymentFlow starts a payment sub-flow for the session's final premium.
// onComplete runs after the success screen delay; callers typically fold the
// result back via CompletePayment from there.
func (e *Engine) NewPaymentFlow(onComplete payment.CompleteFunc) (*payment.Flow, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, ErrNotBootstrapped
	}
	amount := e.session.State.Float(backend.StateKeyFinalPremium)
	delays := payment.Delays{
		Settlement: e.delays.Settlement,
		Completion: e.delays.Completion,
	}
	return payment.NewFlow(e.backend, e.session.ID, amount, delays, onComplete), nil
}

// CompletePayment folds a successful payment into the session and closes the
// conversation with a synthetic turn. The payment and document stages are
// marked complete and the document agent made current before the turn goes
// out, and reasserted afterwards over whatever the reply carried. At most one
// synthetic turn is sent per payment reference, no matter how many times this
// is called.
func (e *Engine) CompletePayment(ctx context.Context, method string, result *backend.PaymentResult) error {
	if result == nil || !result.Success {
		return fmt.Errorf("complete payment: result is not a success")
	}

	e.mu.Lock()
	if e.session == nil {
		e.mu.Unlock()
		return ErrNotBootstrapped
	}
	guardKey := "payment:" + result.PaymentReference
	if !e.turnGuard.FirstTime(guardKey) {
		e.mu.Unlock()
		return nil
	}
	e.foldPaymentLocked(method, result)
	e.mu.Unlock()

	e.hub.Publish(notify.Event{Kind: notify.KindPaymentCompleted, Text: result.PaymentReference})

	if _, err := e.Submit(ctx, paymentCompletedContent, paymentCompletedValue); err != nil {
		// Let a retry send the closing turn again.
		e.turnGuard.Forget(guardKey)
		return fmt.Errorf("sending payment completion turn: %w", err)
	}

	// The closing turn replaced state and agent wholesale. The payment facts
	// win over whatever the reply said.
	e.mu.Lock()
	e.foldPaymentLocked(method, result)
	e.mu.Unlock()

	e.persistRecent(ctx)
	return nil
}

// foldPaymentLocked writes the completed-payment facts into the session:
// payment and document stages complete, document agent current, and the
// chosen method, reference, documents flag and policy number in state.
// Callers hold e.mu.
func (e *Engine) foldPaymentLocked(method string, result *backend.PaymentResult) {
	e.session.State[backend.StateKeyPaymentCompleted] = true
	e.session.State[backend.StateKeyPaymentReference] = result.PaymentReference
	e.session.State[backend.StateKeyDocumentsReady] = true
	if method != "" {
		e.session.State[backend.StateKeyPaymentMethod] = method
	}
	if result.PolicyNumber != "" {
		e.session.State[backend.StateKeyPolicyNumber] = result.PolicyNumber
	}
	e.session.CurrentAgent = string(agents.Document)
	e.tracker.Mark(agents.Payment)
	e.tracker.Advance(agents.Document)
}

// ShouldShowPopup decides whether the completion popup fires for msg. It is
// one-shot per policy number: replays, re-renders and duplicate flags on
// later messages stay silent.
func (e *Engine) ShouldShowPopup(msg *backend.Message) bool {
	if msg == nil || !msg.ShowPolicyPopup {
		return false
	}
	key := e.State().String(backend.StateKeyPolicyNumber)
	if key == "" {
		key = msg.ID
	}
	if !e.popupGuard.FirstTime("popup:" + key) {
		return false
	}
	e.hub.Publish(notify.Event{Kind: notify.KindPolicyReady, Text: key})
	return true
}

// DownloadDocument fetches the policy PDF and writes it to the download
// directory, named after the policy number when one is known. Returns the
// written path.
func (e *Engine) DownloadDocument(ctx context.Context) (string, error) {
	e.mu.Lock()
	if e.session == nil {
		e.mu.Unlock()
		return "", ErrNotBootstrapped
	}
	sessionID := e.session.ID
	policyNumber := e.session.State.String(backend.StateKeyPolicyNumber)
	e.mu.Unlock()

	data, err := e.backend.FetchDocument(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("downloading policy document: %w", err)
	}

	name := "policy_document.pdf"
	if policyNumber != "" {
		name = "policy_" + policyNumber + ".pdf"
	}
	dir := e.downloadDir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating download directory: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("saving policy document: %w", err)
	}

	e.logger.Info("policy document saved", "path", path, "bytes", len(data))
	e.hub.Toast("Saved " + name)
	return path, nil
}

// persistRecent writes the local resume record. Persistence failures are
// logged, never surfaced; the conversation works without the local store.
func (e *Engine) persistRecent(ctx context.Context) {
	if e.recents == nil {
		return
	}

	e.mu.Lock()
	if e.session == nil {
		e.mu.Unlock()
		return
	}
	rec := &store.SessionRecord{
		ID:           e.session.ID,
		CreatedAt:    e.session.CreatedAt,
		CurrentAgent: e.session.CurrentAgent,
		PlanName:     e.session.State.String(backend.StateKeyPlanName),
		PolicyNumber: e.session.State.String(backend.StateKeyPolicyNumber),
		Completed:    e.session.State.Bool(backend.StateKeyPaymentCompleted),
	}
	e.mu.Unlock()

	if err := e.recents.SaveSession(ctx, rec); err != nil {
		e.logger.Warn("saving recent session", "error", err)
		return
	}
	if err := e.recents.SetCurrent(ctx, rec.ID); err != nil {
		e.logger.Warn("marking current session", "error", err)
	}
}

func (e *Engine) clearRecentMarker(ctx context.Context) {
	if e.recents == nil {
		return
	}
	if err := e.recents.ClearCurrent(ctx); err != nil {
		e.logger.Warn("clearing current session marker", "error", err)
	}
}

// sleepCtx waits for d or until ctx is done. Zero and negative durations
// return immediately.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
