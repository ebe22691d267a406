// Package payment implements the client-side payment sub-flow.
//
// The flow is a small state machine layered over the chat: selecting a
// payment method, confirming the amount, processing, and a terminal success
// state. Processing is the only state that talks to the backend. A declined
// or failed attempt returns the flow to method selection so the user can
// retry; it never strands the flow in processing. On success the flow holds
// the backend's payment result and, after a short display delay, hands it to
// the completion callback so the orchestrator can fold it into the session.
package payment
