// Package session is the client-side orchestrator for one quoting
// conversation. It owns the canonical transcript, the authoritative copy of
// the backend's session state and current agent, and the derived pipeline
// tracker, and it serializes turn submission so at most one user turn is in
// flight.
//
// Bootstrap either resumes an existing backend session (rebuilding progress
// from history) or creates a fresh one and seeds it with the backend's
// welcome message. Submit appends the user message optimistically, sends the
// turn, and appends the assistant reply after an additive typing-reveal
// delay; a failed turn keeps the optimistic append and surfaces the error.
// Payment completion folds the payment result into local state and closes
// the conversation with exactly one synthetic turn per payment reference.
// The completion popup fires at most once per policy number.
package session
