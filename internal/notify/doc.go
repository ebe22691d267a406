// Package notify is an in-memory fan-out hub for transient session events:
// turn lifecycle, agent handoffs, payment completion and one-line toasts.
// UI frontends subscribe and render; nothing here is persisted, and slow
// subscribers lose events rather than blocking the orchestrator.
package notify
