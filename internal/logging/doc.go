// Package logging provides structured logging utilities for mailbridge.
//
// All packages log through log/slog. This package holds the shared attribute
// keys, the handler constructor used by the serve command, and helpers that
// keep mailbox addresses and OAuth tokens out of log output.
//
// # Usage Patterns
//
//	logger := logging.WithOperation(slog.Default(), "gmail.list")
//	logger.Info("listed messages", logging.UserHash(user), logging.Status("success"))
//
// # Security Considerations
//
//   - Mailbox addresses are hashed before they are logged
//   - Tokens are never logged directly, only their length
package logging
