package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"golang.org/x/time/rate"

	"github.com/teemow/mailbridge/internal/instrumentation"
)

// Config tunes the HTTP surface.
type Config struct {
	// LatestCount is the number of messages /emails/latest returns.
	LatestCount int

	// SecureCookies marks session and state cookies Secure. Enable behind HTTPS.
	SecureCookies bool

	// AuthRate and AuthBurst limit /authorize and /oauth2callback per client IP.
	AuthRate  rate.Limit
	AuthBurst int

	// TrustedProxies is the number of reverse proxies in front of the
	// server. The rate limiter reads client addresses from their
	// X-Forwarded-For entries.
	TrustedProxies int

	Version string
}

// Server is the mailbridge HTTP API.
type Server struct {
	sc      *ServerContext
	cfg     Config
	logger  *slog.Logger
	metrics *instrumentation.Metrics

	limiter *IPRateLimiter
	health  *HealthChecker
	mcp     *mcpserver.MCPServer
	handler http.Handler
}

// New builds the API server around sc.
func New(sc *ServerContext, cfg Config) *Server {
	s := &Server{
		sc:      sc,
		cfg:     cfg,
		logger:  sc.Logger(),
		metrics: sc.Metrics(),
		limiter: NewIPRateLimiter(cfg.AuthRate, cfg.AuthBurst, cfg.TrustedProxies),
		health:  NewHealthChecker(sc, cfg.Version),
	}
	s.mcp = newMCPServer(sc, cfg.Version)
	s.handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.Handle("GET /authorize", s.limiter.Middleware(http.HandlerFunc(s.handleAuthorize)))
	mux.Handle("GET /oauth2callback", s.limiter.Middleware(http.HandlerFunc(s.handleCallback)))
	mux.HandleFunc("GET /session", s.handleSession)

	mux.HandleFunc("GET /emails/latest", s.handleLatest)
	mux.HandleFunc("GET /emails/detail", s.handleDetail)
	mux.HandleFunc("POST /emails/send", s.handleSend)

	mux.Handle("/mcp", mcpserver.NewStreamableHTTPServer(s.mcp,
		mcpserver.WithEndpointPath("/mcp"),
		mcpserver.WithHTTPContextFunc(s.mcpContext),
	))

	s.health.RegisterHealthEndpoints(mux)

	return securityHeaders(s.recoverPanics(s.logRequests(mux)))
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Health returns the probe handler state.
func (s *Server) Health() *HealthChecker {
	return s.health
}

// HTTPServer returns an http.Server for addr serving s. Request contexts
// derive from the server context, so Close cancels in-flight Gmail calls.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:    addr,
		Handler: s,
		BaseContext: func(net.Listener) context.Context {
			return s.sc.Context()
		},
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// Close stops background work owned by the server.
func (s *Server) Close() error {
	s.health.SetReady(false)
	s.limiter.Stop()
	return s.sc.Shutdown()
}
