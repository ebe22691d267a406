// Package backend implements the HTTP client for the quoting backend.
//
// # Overview
//
// This package provides the JSON-over-HTTP client consumed by the session
// orchestrator. The backend is the source of truth for business state
// (premium, policy number, current agent); this client only moves data and
// maps transport failures onto the client-side error taxonomy.
//
// # Endpoints
//
// The client covers the full REST surface:
//
//   - CreateSession:   POST /api/sessions
//   - GetSession:      GET  /api/sessions/{id}
//   - ListMessages:    GET  /api/messages/{sessionId}
//   - WelcomeMessage:  POST /api/welcome/{sessionId}
//   - SendChat:        POST /api/chat
//   - PatchState:      PATCH /api/sessions/{id}/state
//   - ProcessPayment:  POST /api/payment/process
//   - FetchDocument:   GET  /api/document/{sessionId}/pdf
//
// # Errors
//
// A 404 on session lookup is returned as ErrSessionNotFound so the
// bootstrapper can redirect to session creation. Every other non-2xx
// response becomes a *StatusError wrapping the backend's error detail.
package backend
