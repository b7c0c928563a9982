package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/giantswarm/mcp-oauth/storage"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/teemow/mailbridge/internal/apperror"
	"github.com/teemow/mailbridge/internal/instrumentation"
	"github.com/teemow/mailbridge/internal/logging"
)

// apiTimeout bounds every request made with a Credentials HTTP client.
const apiTimeout = 30 * time.Second

// LoadConfig parses an OAuth client configuration as downloaded from the
// Google Cloud console (a "web" or "installed" JSON document) and sets the
// redirect URL the callback is served on.
func LoadConfig(credentialsJSON []byte, redirectURL string) (*oauth2.Config, error) {
	if len(credentialsJSON) == 0 {
		return nil, errors.New("google credentials are empty")
	}

	conf, err := google.ConfigFromJSON(credentialsJSON, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse google credentials: %w", err)
	}
	if conf.ClientID == "" {
		return nil, errors.New("google credentials have no client_id")
	}
	if redirectURL != "" {
		conf.RedirectURL = redirectURL
	}
	if conf.RedirectURL == "" {
		return nil, errors.New("no redirect URL configured and none found in google credentials")
	}

	return conf, nil
}

// Credentials owns the OAuth client configuration and the per-user token
// store. It replaces a single process-wide credential: every token is
// stored and looked up under the user's mailbox address.
type Credentials struct {
	config   *oauth2.Config
	provider *TokenProvider
	metrics  *instrumentation.Metrics
	logger   *slog.Logger
}

// NewCredentials creates Credentials backed by store.
func NewCredentials(config *oauth2.Config, store storage.TokenStore, metrics *instrumentation.Metrics, logger *slog.Logger) *Credentials {
	if logger == nil {
		logger = slog.Default()
	}
	return &Credentials{
		config:   config,
		provider: NewTokenProvider(store),
		metrics:  metrics,
		logger:   logger,
	}
}

// AuthCodeURL returns the consent screen URL. Consent is always forced so
// that Google issues a refresh token, and the PKCE challenge for verifier is
// attached.
func (c *Credentials) AuthCodeURL(state, verifier string) string {
	return c.config.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.S256ChallengeOption(verifier),
	)
}

// Exchange trades an authorization code for a token.
func (c *Credentials) Exchange(ctx context.Context, code, verifier string) (*oauth2.Token, error) {
	token, err := c.config.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.ErrorCode == "invalid_grant" {
			return nil, apperror.Wrap(apperror.InvalidArgument, err, "authorization code is invalid or expired")
		}
		return nil, apperror.Wrap(apperror.UpstreamFailure, err, "failed to exchange authorization code")
	}
	return token, nil
}

// Store saves token for user, replacing any earlier token.
func (c *Credentials) Store(ctx context.Context, user string, token *oauth2.Token) error {
	existed := c.provider.TokenStoredForAccount(ctx, user)

	if err := c.provider.SaveToken(ctx, user, token); err != nil {
		return apperror.Wrap(apperror.Internal, err, "failed to store credentials")
	}
	if !existed {
		c.metrics.CredentialStored(ctx)
	}

	c.logger.Info("stored google credentials",
		logging.UserHash(user),
		slog.String("refresh_token", logging.SanitizeToken(token.RefreshToken)))
	return nil
}

// Has reports whether credentials are stored for user.
func (c *Credentials) Has(ctx context.Context, user string) bool {
	return user != "" && c.provider.HasTokenForAccount(ctx, user)
}

// Forget removes the stored credentials of user.
func (c *Credentials) Forget(ctx context.Context, user string) {
	if !c.provider.TokenStoredForAccount(ctx, user) {
		return
	}
	if err := c.provider.DeleteToken(ctx, user); err != nil {
		c.logger.Warn("failed to delete credentials", logging.UserHash(user), logging.Err(err))
		return
	}
	c.metrics.CredentialRemoved(ctx)
}

// HTTPClient returns an HTTP client authorized as user. Refreshed tokens are
// written back to the store. It fails with apperror.Unauthenticated when no
// credentials are stored.
func (c *Credentials) HTTPClient(ctx context.Context, user string) (*http.Client, error) {
	if user == "" {
		return nil, apperror.New(apperror.Unauthenticated, "not signed in")
	}

	token, err := c.provider.GetTokenForAccount(ctx, user)
	if err != nil || token == nil {
		return nil, apperror.Wrap(apperror.Unauthenticated, err, "no Google credentials stored for this session")
	}

	src := &persistingTokenSource{
		ctx:    ctx,
		user:   user,
		last:   token,
		base:   c.config.TokenSource(ctx, token),
		owner:  c,
		logger: c.logger,
	}
	return c.client(ctx, src), nil
}

// TokenHTTPClient returns an HTTP client for a freshly exchanged token that
// is not stored yet.
func (c *Credentials) TokenHTTPClient(ctx context.Context, token *oauth2.Token) *http.Client {
	return c.client(ctx, c.config.TokenSource(ctx, token))
}

func (c *Credentials) client(ctx context.Context, src oauth2.TokenSource) *http.Client {
	hc := oauth2.NewClient(ctx, oauth2.ReuseTokenSource(nil, src))
	hc.Timeout = apiTimeout
	return hc
}
