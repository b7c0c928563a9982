package google

import (
	"context"
	"errors"

	"github.com/giantswarm/mcp-oauth/storage"
	"golang.org/x/oauth2"
)

// TokenProvider looks up OAuth tokens by account (mailbox address) in an
// mcp-oauth token store.
type TokenProvider struct {
	store storage.TokenStore
}

// NewTokenProvider creates a TokenProvider over store.
func NewTokenProvider(store storage.TokenStore) *TokenProvider {
	return &TokenProvider{store: store}
}

// GetTokenForAccount retrieves the token stored for account.
func (p *TokenProvider) GetTokenForAccount(ctx context.Context, account string) (*oauth2.Token, error) {
	return p.store.GetToken(ctx, account)
}

// HasTokenForAccount checks if a token exists for account.
func (p *TokenProvider) HasTokenForAccount(ctx context.Context, account string) bool {
	token, err := p.store.GetToken(ctx, account)
	return err == nil && token != nil
}

// TokenStoredForAccount reports whether any token is stored for account,
// including an expired one the store no longer returns.
func (p *TokenProvider) TokenStoredForAccount(ctx context.Context, account string) bool {
	_, err := p.store.GetToken(ctx, account)
	return !errors.Is(err, storage.ErrTokenNotFound)
}

// SaveToken stores token for account.
func (p *TokenProvider) SaveToken(ctx context.Context, account string, token *oauth2.Token) error {
	return p.store.SaveToken(ctx, account, token)
}

// DeleteToken removes the token of account.
func (p *TokenProvider) DeleteToken(ctx context.Context, account string) error {
	return p.store.DeleteToken(ctx, account)
}
