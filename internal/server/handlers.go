package server

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/teemow/mailbridge/internal/apperror"
	"github.com/teemow/mailbridge/internal/auth"
	"github.com/teemow/mailbridge/internal/gmail"
	"github.com/teemow/mailbridge/internal/instrumentation"
	"github.com/teemow/mailbridge/internal/logging"
)

const (
	livenessMessage = "GPT Gmail API is running!"
	sentMessage     = "Email sent!"

	// maxSendBody bounds the JSON body accepted by /emails/send.
	maxSendBody = 1 << 20
)

type sendResponse struct {
	Status string `json:"status"`
}

type sessionResponse struct {
	User  string `json:"user"`
	Token string `json:"token"`
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, livenessMessage)
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	flow := s.sc.Flows().Begin()
	s.setCookie(w, auth.StateCookie, flow.State, time.Until(flow.ExpiresAt))
	http.Redirect(w, r, s.sc.Credentials().AuthCodeURL(flow.State, flow.Verifier), http.StatusFound)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()
	logger := logging.WithOperation(s.logger, "oauth.callback")

	fail := func(err error) {
		s.metrics.RecordOAuthAuth(ctx, instrumentation.OAuthResultFailure)
		logger.Debug("authorization callback failed", logging.Err(err))
		s.writeError(w, r, err)
	}

	if denied := query.Get("error"); denied != "" {
		fail(apperror.Newf(apperror.InvalidArgument, "authorization failed: %s", denied))
		return
	}

	code := query.Get("code")
	if code == "" {
		fail(apperror.New(apperror.InvalidArgument, "Missing authorization code"))
		return
	}

	state := query.Get("state")
	flow, err := s.sc.Flows().Consume(state)
	if err != nil {
		fail(apperror.Wrap(apperror.InvalidArgument, err, "Invalid OAuth state"))
		return
	}
	s.clearCookie(w, auth.StateCookie)

	cookie, err := r.Cookie(auth.StateCookie)
	if err != nil || cookie.Value != state {
		fail(apperror.New(apperror.InvalidArgument, "Invalid OAuth state"))
		return
	}

	token, err := s.sc.Credentials().Exchange(ctx, code, flow.Verifier)
	if err != nil {
		fail(err)
		return
	}

	client, err := s.sc.GmailClientForToken(ctx, token)
	if err != nil {
		fail(err)
		return
	}
	user, err := client.Profile(ctx)
	if err != nil {
		fail(err)
		return
	}

	if err := s.sc.Credentials().Store(ctx, user, token); err != nil {
		fail(err)
		return
	}

	session, err := s.sc.Sessions().Issue(user)
	if err != nil {
		fail(apperror.Wrap(apperror.Internal, err, "failed to issue session"))
		return
	}
	s.setCookie(w, auth.SessionCookie, session, s.sc.Sessions().TTL())

	s.metrics.RecordOAuthAuth(ctx, instrumentation.OAuthResultSuccess)
	logger.Info("user authorized", logging.UserHash(user), logging.Domain(user))

	http.Redirect(w, r, "/emails/latest", http.StatusFound)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	user, err := s.currentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if !s.sc.Credentials().Has(r.Context(), user) {
		s.writeError(w, r, apperror.New(apperror.Unauthenticated, "no Google credentials stored for this session"))
		return
	}

	token, err := s.sc.Sessions().Issue(user)
	if err != nil {
		s.writeError(w, r, apperror.Wrap(apperror.Internal, err, "failed to issue session"))
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{User: user, Token: token})
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	client, err := s.gmailClient(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	summaries, err := client.ListLatest(r.Context(), s.cfg.LatestCount, r.URL.Query().Get("q"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleDetail(w http.ResponseWriter, r *http.Request) {
	client, err := s.gmailClient(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	detail, err := client.GetDetail(r.Context(), r.URL.Query().Get("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	client, err := s.gmailClient(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var req gmail.SendRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSendBody)).Decode(&req); err != nil {
		s.writeError(w, r, apperror.Wrap(apperror.InvalidArgument, err, "Invalid JSON body"))
		return
	}
	msg, err := req.Message()
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if _, err := client.Send(r.Context(), msg); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sendResponse{Status: sentMessage})
}

// currentUser resolves the session of r.
func (s *Server) currentUser(r *http.Request) (string, error) {
	user, err := s.sc.Sessions().FromRequest(r)
	if err != nil {
		return "", apperror.Wrap(apperror.Unauthenticated, err, "not signed in")
	}
	return user, nil
}

// gmailClient returns a Gmail client for the user of r's session.
func (s *Server) gmailClient(r *http.Request) (*gmail.Client, error) {
	user, err := s.currentUser(r)
	if err != nil {
		return nil, err
	}
	return s.sc.GmailClient(r.Context(), user)
}

func (s *Server) setCookie(w http.ResponseWriter, name, value string, maxAge time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   s.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

