// Package auth holds the pieces of authentication that sit in front of
// Google OAuth: pending consent flows with their PKCE verifiers, and signed
// session tokens naming the stored credential a request acts for.
package auth
