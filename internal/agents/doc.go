// Package agents defines the fixed backend agent catalogue and tracks
// pipeline progress across a conversation.
//
// The backend decides which agent answers each turn; the client only
// projects that stream of agent identifiers onto a fixed, known pipeline.
// Identifiers outside the catalogue are tolerated everywhere: they may be
// the current agent (rendered with a generic label) but are never counted
// toward progress.
package agents
