// Package google handles the Google OAuth side of mailbridge: loading the
// client configuration, building consent URLs, exchanging codes and keeping
// per-user tokens in an mcp-oauth token store.
package google
