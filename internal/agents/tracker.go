// ABOUTME: Derives current/completed pipeline progress from the turn stream.
// ABOUTME: Completed is deduplicated, filtered to the catalogue and size-capped.

package agents

import "github.com/jiffylabs/quotechat/internal/backend"

// StageState is the visual state of one pipeline stage. For each known agent
// exactly one of the three applies: active wins over completed, completed
// over pending.
type StageState int

const (
	StagePending StageState = iota
	StageCompleted
	StageActive
)

// Tracker maintains the derived pipeline progress: the agent currently
// answering and the insertion-ordered set of known agents seen so far.
// It is owned by the orchestrator and updated atomically with each history
// append, so it needs no locking of its own.
type Tracker struct {
	current   ID
	completed []ID
	seen      map[ID]bool
}

// NewTracker returns a tracker with no completed stages and current seeded
// to id. Completion only accrues from turns (Advance) or from history
// (RebuildFromHistory), never from the seed alone.
func NewTracker(current ID) *Tracker {
	return &Tracker{
		current: current,
		seen:    make(map[ID]bool, len(Pipeline)),
	}
}

// mark adds id to completed if it is known and not already present. The set
// is capped at the catalogue size; once every known agent is present there
// is nothing left to add.
func (t *Tracker) mark(id ID) {
	if !Known(id) || t.seen[id] || len(t.completed) >= len(Pipeline) {
		return
	}
	t.seen[id] = true
	t.completed = append(t.completed, id)
}

// Advance records the agent from a completed turn. Current is taken
// unconditionally, even for identifiers outside the catalogue; only known
// ids join the completed set.
func (t *Tracker) Advance(id ID) {
	t.current = id
	t.mark(id)
}

// Mark adds id to the completed set without touching current. Used when a
// stage completes out of band, e.g. the payment sub-flow finishing. The same
// catalogue filter and size cap apply.
func (t *Tracker) Mark(id ID) {
	t.mark(id)
}

// RebuildFromHistory reconstructs completed by scanning a resumed session's
// message history once, and seeds current from the stored current agent.
// Replay order does not matter: the result is the distinct set of known
// agents attributed to assistant messages.
func RebuildFromHistory(history []backend.Message, current ID) *Tracker {
	t := NewTracker(current)
	for _, msg := range history {
		if msg.Role != backend.RoleAssistant || msg.Agent == "" {
			continue
		}
		t.mark(ID(msg.Agent))
	}
	return t
}

// Current returns the active agent identifier as last reported.
func (t *Tracker) Current() ID { return t.current }

// Completed returns the known agents seen so far, in first-seen order.
// Callers must not mutate the returned slice.
func (t *Tracker) Completed() []ID { return t.completed }

// IsCompleted reports whether id is in the completed set.
func (t *Tracker) IsCompleted(id ID) bool { return t.seen[id] }

// State returns the visual state for one known pipeline stage.
func (t *Tracker) State(id ID) StageState {
	switch {
	case id == t.current:
		return StageActive
	case t.seen[id]:
		return StageCompleted
	default:
		return StagePending
	}
}

// Progress returns the pipeline completion percentage, clamped to [0,100].
func (t *Tracker) Progress() int {
	pct := len(t.completed) * 100 / len(Pipeline)
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
