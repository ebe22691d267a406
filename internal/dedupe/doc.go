// Package dedupe provides a one-shot guard for effects that must fire at
// most once per key: the policy completion popup per policy number, and the
// synthetic closing turn per payment reference. Keys live for the guard's
// lifetime; there is no expiry, because the effects it protects are
// once-per-session by definition. A size cap bounds memory for long-lived
// guards, evicting oldest keys first.
package dedupe
