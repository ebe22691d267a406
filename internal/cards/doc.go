// Package cards maps declarative card payloads to terminal renderers.
//
// Assistant messages may carry a sequence of typed card payloads. Dispatch
// is a pure function: same payload sequence in, same rendered sequence out,
// order preserved, entries of unknown type silently omitted. The silent drop
// is deliberate — the backend is free to ship card types this client does
// not know, and that must never surface as an error or a placeholder.
package cards
