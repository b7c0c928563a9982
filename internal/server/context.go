package server

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/oauth2"

	"github.com/teemow/mailbridge/internal/apperror"
	"github.com/teemow/mailbridge/internal/auth"
	"github.com/teemow/mailbridge/internal/gmail"
	"github.com/teemow/mailbridge/internal/google"
	"github.com/teemow/mailbridge/internal/instrumentation"
)

// ServerContext holds the dependencies shared by all handlers.
type ServerContext struct {
	ctx    context.Context
	cancel context.CancelFunc

	credentials *google.Credentials
	gmail       *gmail.Service
	flows       *auth.FlowStore
	sessions    *auth.Sessions
	metrics     *instrumentation.Metrics
	logger      *slog.Logger

	mu       sync.RWMutex
	shutdown bool
}

// NewServerContext creates a server context. Its context is cancelled by
// Shutdown.
func NewServerContext(ctx context.Context, credentials *google.Credentials, gmailService *gmail.Service, flows *auth.FlowStore, sessions *auth.Sessions, metrics *instrumentation.Metrics, logger *slog.Logger) *ServerContext {
	if logger == nil {
		logger = slog.Default()
	}
	shutdownCtx, cancel := context.WithCancel(ctx)

	return &ServerContext{
		ctx:         shutdownCtx,
		cancel:      cancel,
		credentials: credentials,
		gmail:       gmailService,
		flows:       flows,
		sessions:    sessions,
		metrics:     metrics,
		logger:      logger,
	}
}

// Context returns the server context. It is canceled by Shutdown.
func (sc *ServerContext) Context() context.Context {
	return sc.ctx
}

// Credentials returns the per-user Google credential store.
func (sc *ServerContext) Credentials() *google.Credentials {
	return sc.credentials
}

// Sessions returns the session token issuer.
func (sc *ServerContext) Sessions() *auth.Sessions {
	return sc.sessions
}

// Flows returns the pending authorization store.
func (sc *ServerContext) Flows() *auth.FlowStore {
	return sc.flows
}

// Metrics returns the metrics recorder. It may be nil.
func (sc *ServerContext) Metrics() *instrumentation.Metrics {
	return sc.metrics
}

// Logger returns the server logger.
func (sc *ServerContext) Logger() *slog.Logger {
	return sc.logger
}

// GmailClient returns a Gmail client acting for user. It fails with
// apperror.Unauthenticated when user has no stored credentials.
func (sc *ServerContext) GmailClient(ctx context.Context, user string) (*gmail.Client, error) {
	if sc.IsShutdown() {
		return nil, apperror.New(apperror.UpstreamFailure, "server is shutting down")
	}

	httpClient, err := sc.credentials.HTTPClient(ctx, user)
	if err != nil {
		return nil, err
	}
	return sc.gmail.NewClient(ctx, user, httpClient)
}

// GmailClientForToken returns a Gmail client for a token that has just been
// exchanged and is not stored yet.
func (sc *ServerContext) GmailClientForToken(ctx context.Context, token *oauth2.Token) (*gmail.Client, error) {
	return sc.gmail.NewClient(ctx, "", sc.credentials.TokenHTTPClient(ctx, token))
}

// IsShutdown returns whether the server has been shutdown
func (sc *ServerContext) IsShutdown() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.shutdown
}

// Shutdown marks the context as shut down, cancels it and stops the flow
// store sweep.
func (sc *ServerContext) Shutdown() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.shutdown {
		return nil
	}

	sc.shutdown = true
	sc.cancel()
	if sc.flows != nil {
		sc.flows.Stop()
	}
	return nil
}

type userContextKey struct{}

// WithUser returns a copy of ctx carrying the signed-in mailbox address.
func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

// UserFromContext returns the mailbox address stored by WithUser.
func UserFromContext(ctx context.Context) (string, bool) {
	user, ok := ctx.Value(userContextKey{}).(string)
	return user, ok && user != ""
}
