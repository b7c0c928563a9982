// Package server implements the mailbridge HTTP API.
//
// # Routes
//
//	GET  /                    liveness text
//	GET  /authorize           start Google consent (PKCE, forced consent, offline access)
//	GET  /oauth2callback      finish consent, store credentials, issue a session
//	GET  /session             current user and a bearer session token
//	GET  /emails/latest       latest message summaries, optional ?q= search
//	GET  /emails/detail?id=   sender, subject and plain-text body of one message
//	POST /emails/send         send a plain-text message
//	     /mcp                 the same operations as MCP tools (streamable HTTP)
//	GET  /healthz, /readyz    probes
//
// Requests identify their user with the session cookie set by the callback
// or with "Authorization: Bearer <token>". Requests without a session, or
// whose user has no usable Google credentials, are redirected to /authorize.
// Other failures are returned as {"error": "..."} with a status derived from
// the apperror kind.
//
// Prometheus metrics are served by MetricsServer on a separate listener.
package server
