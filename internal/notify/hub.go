// ABOUTME: In-memory pub/sub hub for transient session events.
// ABOUTME: Non-blocking publish; slow subscribers drop events instead of stalling.

package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// Kind classifies a session event.
type Kind string

const (
	// KindTurnStarted fires when a user turn has been accepted for
	// submission.
	KindTurnStarted Kind = "turn_started"
	// KindTurnCompleted fires when the assistant reply has been appended.
	KindTurnCompleted Kind = "turn_completed"
	// KindAgentChanged fires when the current agent moves to a new stage.
	KindAgentChanged Kind = "agent_changed"
	// KindPaymentCompleted fires once per successful payment.
	KindPaymentCompleted Kind = "payment_completed"
	// KindPolicyReady fires when the completion popup should be shown.
	KindPolicyReady Kind = "policy_ready"
	// KindToast is a one-line transient status message.
	KindToast Kind = "toast"
)

// Event is one transient notification. Agent is set for agent-related kinds,
// Text for human-readable ones.
type Event struct {
	Kind  Kind
	Agent string
	Text  string
}

// Hub fans events out to all current subscribers. Safe for concurrent use.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]chan Event
	logger      *slog.Logger
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[string]chan Event),
		logger:      slog.Default().With("component", "notify"),
	}
}

// Subscribe registers a subscriber and returns its event channel and
// subscription id. The subscription is removed and the channel closed when
// ctx is cancelled.
func (h *Hub) Subscribe(ctx context.Context) (<-chan Event, string) {
	subID := uuid.New().String()
	ch := make(chan Event, subscriberBufferSize)

	h.mu.Lock()
	h.subscribers[subID] = ch
	h.mu.Unlock()

	h.logger.Debug("subscriber added", "sub_id", subID)

	go func() {
		<-ctx.Done()
		h.Unsubscribe(subID)
	}()

	return ch, subID
}

// Publish delivers event to every subscriber that has buffer room. Full
// subscribers are skipped.
func (h *Hub) Publish(event Event) {
	h.mu.RLock()
	targets := make([]chan Event, 0, len(h.subscribers))
	for _, ch := range h.subscribers {
		targets = append(targets, ch)
	}
	h.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- event:
		default:
			h.logger.Debug("dropped event for slow subscriber", "kind", event.Kind)
		}
	}
}

// Toast publishes a one-line status message.
func (h *Hub) Toast(text string) {
	h.Publish(Event{Kind: KindToast, Text: text})
}

// Unsubscribe removes a subscription and closes its channel. Unknown ids are
// a no-op.
func (h *Hub) Unsubscribe(subID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.subscribers[subID]
	if !ok {
		return
	}
	delete(h.subscribers, subID)
	close(ch)
	h.logger.Debug("subscriber removed", "sub_id", subID)
}

// Close removes all subscribers and closes their channels.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for subID, ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, subID)
	}
}
