package gmail

import (
	"context"
	"errors"
	"net/http"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"

	"github.com/teemow/mailbridge/internal/apperror"
)

// classifyError maps an error from a Gmail call to an apperror kind.
func classifyError(msg string, err error) error {
	if err == nil {
		return nil
	}

	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		return err
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return apperror.Wrap(apperror.UpstreamFailure, err, "Gmail API temporarily unavailable")
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return apperror.Wrap(apperror.Unauthenticated, err, "Google credentials were rejected")
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusUnauthorized:
			return apperror.Wrap(apperror.Unauthenticated, err, msg)
		case http.StatusNotFound:
			return apperror.Wrap(apperror.NotFound, err, "Email not found")
		case http.StatusBadRequest:
			return apperror.Wrap(apperror.InvalidArgument, err, msg)
		}
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return apperror.Wrap(apperror.UpstreamFailure, err, msg+": request cancelled or timed out")
	}

	return apperror.Wrap(apperror.UpstreamFailure, err, msg)
}

// countsAsFailure reports whether err should count against the circuit
// breaker. Only server-side failures and rate limiting do; errors caused by
// the caller's request or credentials do not.
func countsAsFailure(err error) bool {
	if err == nil {
		return false
	}

	var appErr *apperror.Error
	if errors.As(err, &appErr) && appErr.Kind != apperror.UpstreamFailure {
		return false
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return false
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code >= 500 || apiErr.Code == http.StatusTooManyRequests
	}

	return !errors.Is(err, context.Canceled)
}
