// Package cmd implements the command-line interface for mailbridge.
//
// This package provides the following commands:
//   - serve: Start the HTTP API
//   - version: Display version information
//
// Configuration comes from flags, environment variables and an optional
// .env file, in that order of precedence.
package cmd
