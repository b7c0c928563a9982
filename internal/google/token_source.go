package google

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/oauth2"

	"github.com/teemow/mailbridge/internal/apperror"
	"github.com/teemow/mailbridge/internal/instrumentation"
	"github.com/teemow/mailbridge/internal/logging"
)

// persistingTokenSource saves refreshed tokens back to the store. When
// Google rejects the refresh token the stored credentials are dropped, so
// the user is sent through consent again.
type persistingTokenSource struct {
	ctx    context.Context
	user   string
	base   oauth2.TokenSource
	owner  *Credentials
	logger *slog.Logger

	mu   sync.Mutex
	last *oauth2.Token
}

func (s *persistingTokenSource) Token() (*oauth2.Token, error) {
	token, err := s.base.Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			s.owner.metrics.RecordOAuthTokenRefresh(s.ctx, instrumentation.OAuthResultExpired)
			s.logger.Info("google rejected stored credentials",
				logging.UserHash(s.user),
				slog.String("oauth_error", retrieveErr.ErrorCode))
			s.owner.Forget(s.ctx, s.user)
			return nil, apperror.Wrap(apperror.Unauthenticated, err, "Google credentials expired, authorize again")
		}
		s.owner.metrics.RecordOAuthTokenRefresh(s.ctx, instrumentation.OAuthResultFailure)
		return nil, apperror.Wrap(apperror.UpstreamFailure, err, "failed to refresh Google credentials")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.last != nil && token.AccessToken == s.last.AccessToken {
		return token, nil
	}

	// Google omits the refresh token on refresh responses.
	if token.RefreshToken == "" && s.last != nil {
		token.RefreshToken = s.last.RefreshToken
	}
	s.last = token

	s.owner.metrics.RecordOAuthTokenRefresh(s.ctx, instrumentation.OAuthResultSuccess)
	if err := s.owner.provider.SaveToken(s.ctx, s.user, token); err != nil {
		s.logger.Warn("failed to persist refreshed token", logging.UserHash(s.user), logging.Err(err))
	} else {
		s.logger.Debug("persisted refreshed token", logging.UserHash(s.user))
	}
	return token, nil
}
