package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/teemow/mailbridge/internal/apperror"
	"github.com/teemow/mailbridge/internal/logging"
)

// authorizePath is where unauthenticated requests are sent.
const authorizePath = "/authorize"

// errorResponse is the body of every failed JSON response.
type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeError maps err to a response. Unauthenticated errors redirect to the
// consent flow; every other kind becomes a JSON error with the kind's status.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperror.KindOf(err)

	if kind == apperror.Unauthenticated {
		s.logger.Debug("redirecting unauthenticated request",
			slog.String(logging.KeyPath, r.URL.Path),
			logging.Err(err))
		http.Redirect(w, r, authorizePath, http.StatusFound)
		return
	}

	status := kind.HTTPStatus()
	msg := apperror.Message(err)
	if kind == apperror.Internal {
		s.logger.Error("request failed",
			slog.String(logging.KeyMethod, r.Method),
			slog.String(logging.KeyPath, r.URL.Path),
			logging.Err(err))
	} else {
		s.logger.Warn("request failed",
			slog.String(logging.KeyPath, r.URL.Path),
			slog.String("kind", kind.String()),
			logging.Err(err))
	}

	writeErrorMessage(w, status, msg)
}
