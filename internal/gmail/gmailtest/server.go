// Package gmailtest provides an in-memory fake of the Gmail API endpoints
// mailbridge uses, for tests.
package gmailtest

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"

	gmail "google.golang.org/api/gmail/v1"
)

// Server is a fake Gmail API. Point a client at URL() with
// option.WithEndpoint.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	address  string
	messages []*gmail.Message
	sent     []string
	failWith int
	requests int
	lastAuth string
	lastList map[string][]string
}

// NewServer starts a fake Gmail API for the given mailbox address.
func NewServer(address string) *Server {
	s := &Server{address: address}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /gmail/v1/users/me/profile", s.handleProfile)
	mux.HandleFunc("GET /gmail/v1/users/me/messages", s.handleList)
	mux.HandleFunc("GET /gmail/v1/users/me/messages/{id}", s.handleGet)
	mux.HandleFunc("POST /gmail/v1/users/me/messages/send", s.handleSend)

	s.Server = httptest.NewServer(s.intercept(mux))
	return s
}

// Endpoint returns the base URL to pass to option.WithEndpoint.
func (s *Server) Endpoint() string {
	return s.URL + "/"
}

// AddMessage appends a message to the mailbox. Messages are listed in the
// order they were added.
func (s *Server) AddMessage(m *gmail.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
}

// FailWith makes every following request fail with the given status code.
// Zero restores normal behavior.
func (s *Server) FailWith(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = code
}

// Sent returns the decoded raw messages received by messages.send.
func (s *Server) Sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

// Requests returns the number of requests served.
func (s *Server) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

// LastAuthorization returns the Authorization header of the last request.
func (s *Server) LastAuthorization() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAuth
}

// LastListQuery returns the query parameters of the last messages.list call.
func (s *Server) LastListQuery() map[string][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastList
}

func (s *Server) intercept(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests++
		s.lastAuth = r.Header.Get("Authorization")
		code := s.failWith
		s.mu.Unlock()

		if code != 0 {
			writeError(w, code, http.StatusText(code))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleProfile(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, &gmail.Profile{EmailAddress: s.address})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit := len(s.messages)
	if n, err := strconv.Atoi(r.URL.Query().Get("maxResults")); err == nil && n >= 0 && n < limit {
		limit = n
	}
	s.lastList = r.URL.Query()

	refs := make([]*gmail.Message, 0, limit)
	for _, m := range s.messages[:limit] {
		refs = append(refs, &gmail.Message{Id: m.Id, ThreadId: m.ThreadId})
	}

	writeJSON(w, &gmail.ListMessagesResponse{Messages: refs, ResultSizeEstimate: int64(len(refs))})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.mu.Lock()
	var found *gmail.Message
	for _, m := range s.messages {
		if m.Id == id {
			found = m
			break
		}
	}
	s.mu.Unlock()

	if found == nil {
		writeError(w, http.StatusNotFound, "Requested entity was not found.")
		return
	}
	writeJSON(w, found)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var msg gmail.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	raw, err := base64.URLEncoding.DecodeString(msg.Raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid raw message")
		return
	}

	s.mu.Lock()
	s.sent = append(s.sent, string(raw))
	id := "sent-" + strconv.Itoa(len(s.sent))
	s.mu.Unlock()

	writeJSON(w, &gmail.Message{Id: id, LabelIds: []string{"SENT"}})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"code": code, "message": msg},
	})
}

// Message builds a message with From and Subject headers and the given
// payload parts. Headers with an empty value are omitted.
func Message(id, from, subject string, parts ...*gmail.MessagePart) *gmail.Message {
	var headers []*gmail.MessagePartHeader
	if from != "" {
		headers = append(headers, &gmail.MessagePartHeader{Name: "From", Value: from})
	}
	if subject != "" {
		headers = append(headers, &gmail.MessagePartHeader{Name: "Subject", Value: subject})
	}
	return &gmail.Message{
		Id:       id,
		ThreadId: "thread-" + id,
		Payload: &gmail.MessagePart{
			MimeType: "multipart/alternative",
			Headers:  headers,
			Parts:    parts,
		},
	}
}

// TextPart returns a body part of the given MIME type with unpadded
// base64url data, the way Gmail returns it.
func TextPart(mimeType, text string) *gmail.MessagePart {
	return &gmail.MessagePart{
		MimeType: mimeType,
		Body:     &gmail.MessagePartBody{Data: base64.RawURLEncoding.EncodeToString([]byte(text)), Size: int64(len(text))},
	}
}
