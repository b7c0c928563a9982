package auth

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// DefaultFlowTTL is how long a consent flow may take before its state expires.
const DefaultFlowTTL = 10 * time.Minute

// Errors returned by FlowStore.Consume.
var (
	ErrUnknownState = errors.New("unknown or already used OAuth state")
	ErrStateExpired = errors.New("OAuth state expired")
)

// PendingAuthorization is a consent flow that has been started with
// /authorize and not yet completed.
type PendingAuthorization struct {
	State     string
	Verifier  string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// FlowStore keeps pending authorizations in memory. Each state can be
// consumed once.
type FlowStore struct {
	mu     sync.Mutex
	flows  map[string]*PendingAuthorization
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	stop     chan struct{}
	stopOnce sync.Once
}

// NewFlowStore creates a flow store and starts its expiry sweep. Call Stop
// to end the sweep.
func NewFlowStore(ttl time.Duration, logger *slog.Logger) *FlowStore {
	if ttl <= 0 {
		ttl = DefaultFlowTTL
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &FlowStore{
		flows:  make(map[string]*PendingAuthorization),
		ttl:    ttl,
		now:    time.Now,
		logger: logger,
		stop:   make(chan struct{}),
	}
	go s.cleanup()
	return s
}

// Begin starts a new flow with a random state and PKCE verifier.
func (s *FlowStore) Begin() *PendingAuthorization {
	now := s.now()
	flow := &PendingAuthorization{
		State:     uuid.NewString(),
		Verifier:  oauth2.GenerateVerifier(),
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}

	s.mu.Lock()
	s.flows[flow.State] = flow
	s.mu.Unlock()

	s.logger.Debug("started authorization flow", slog.Time("expires_at", flow.ExpiresAt))
	return flow
}

// Consume returns and deletes the flow for state. Replayed and expired
// states fail.
func (s *FlowStore) Consume(state string) (*PendingAuthorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	flow, ok := s.flows[state]
	if !ok {
		return nil, ErrUnknownState
	}
	delete(s.flows, state)

	if s.now().After(flow.ExpiresAt) {
		return nil, ErrStateExpired
	}
	return flow, nil
}

// Len returns the number of pending flows.
func (s *FlowStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.flows)
}

// Stop ends the background expiry sweep.
func (s *FlowStore) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *FlowStore) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.cleanupExpired()
		}
	}
}

func (s *FlowStore) cleanupExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	deleted := 0
	for state, flow := range s.flows {
		if now.After(flow.ExpiresAt) {
			delete(s.flows, state)
			deleted++
		}
	}

	if deleted > 0 {
		s.logger.Debug("cleaned up expired authorization flows", slog.Int("deleted", deleted))
	}
}
