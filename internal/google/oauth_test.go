package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/giantswarm/mcp-oauth/storage"
	"github.com/giantswarm/mcp-oauth/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/teemow/mailbridge/internal/apperror"
)

const webCredentials = `{
  "web": {
    "client_id": "client-123.apps.googleusercontent.com",
    "client_secret": "secret",
    "auth_uri": "https://accounts.google.com/o/oauth2/auth",
    "token_uri": "https://oauth2.googleapis.com/token",
    "redirect_uris": ["https://example.com/oauth2callback"]
  }
}`

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name         string
		json         string
		redirect     string
		wantErr      bool
		wantRedirect string
	}{
		{name: "redirect from file", json: webCredentials, wantRedirect: "https://example.com/oauth2callback"},
		{name: "redirect override", json: webCredentials, redirect: "http://localhost:3000/oauth2callback", wantRedirect: "http://localhost:3000/oauth2callback"},
		{name: "empty", json: "", wantErr: true},
		{name: "not json", json: "{nope", wantErr: true},
		{name: "no client section", json: `{"other": {}}`, wantErr: true},
		{name: "no redirect anywhere", json: `{"web": {"client_id": "c", "client_secret": "s", "auth_uri": "a", "token_uri": "t"}}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf, err := LoadConfig([]byte(tt.json), tt.redirect)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "client-123.apps.googleusercontent.com", conf.ClientID)
			assert.Equal(t, tt.wantRedirect, conf.RedirectURL)
			assert.Equal(t, Scopes, conf.Scopes)
		})
	}
}

// tokenServer is a fake Google token endpoint.
type tokenServer struct {
	*httptest.Server

	mu       sync.Mutex
	forms    []url.Values
	reject   bool
	accessID int
}

func newTokenServer(t *testing.T) *tokenServer {
	t.Helper()
	ts := &tokenServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		ts.mu.Lock()
		ts.forms = append(ts.forms, r.PostForm)
		reject := ts.reject
		ts.accessID++
		access := "access-" + strconv.Itoa(ts.accessID)
		ts.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if reject {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error":             "invalid_grant",
				"error_description": "Token has been expired or revoked.",
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  access,
			"refresh_token": "refresh-1",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *tokenServer) lastForm() url.Values {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if len(ts.forms) == 0 {
		return nil
	}
	return ts.forms[len(ts.forms)-1]
}

func newTestCredentials(t *testing.T, ts *tokenServer) (*Credentials, storage.TokenStore) {
	t.Helper()
	store := memory.New()
	t.Cleanup(store.Stop)

	conf := &oauth2.Config{
		ClientID:     "client-123",
		ClientSecret: "secret",
		RedirectURL:  "http://localhost:3000/oauth2callback",
		Scopes:       Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   "https://accounts.example.com/auth",
			TokenURL:  ts.URL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	return NewCredentials(conf, store, nil, nil), store
}

func TestCredentials_AuthCodeURL(t *testing.T) {
	creds, _ := newTestCredentials(t, newTokenServer(t))

	u, err := url.Parse(creds.AuthCodeURL("state-abc", oauth2.GenerateVerifier()))
	require.NoError(t, err)

	q := u.Query()
	assert.Equal(t, "state-abc", q.Get("state"))
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "consent", q.Get("prompt"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.NotEmpty(t, q.Get("code_challenge"))
	assert.Equal(t, "http://localhost:3000/oauth2callback", q.Get("redirect_uri"))
	assert.Contains(t, q.Get("scope"), "gmail.send")
}

func TestCredentials_Exchange(t *testing.T) {
	ts := newTokenServer(t)
	creds, _ := newTestCredentials(t, ts)

	token, err := creds.Exchange(context.Background(), "code-1", "verifier-1")
	require.NoError(t, err)
	assert.Equal(t, "access-1", token.AccessToken)
	assert.Equal(t, "refresh-1", token.RefreshToken)

	form := ts.lastForm()
	assert.Equal(t, "authorization_code", form.Get("grant_type"))
	assert.Equal(t, "code-1", form.Get("code"))
	assert.Equal(t, "verifier-1", form.Get("code_verifier"))

	ts.mu.Lock()
	ts.reject = true
	ts.mu.Unlock()

	_, err = creds.Exchange(context.Background(), "code-2", "verifier-2")
	assert.True(t, apperror.Is(err, apperror.InvalidArgument), "got %v", err)
}

func TestCredentials_StoreAndForget(t *testing.T) {
	creds, _ := newTestCredentials(t, newTokenServer(t))
	ctx := context.Background()

	assert.False(t, creds.Has(ctx, "jane@example.com"))
	assert.False(t, creds.Has(ctx, ""))

	require.NoError(t, creds.Store(ctx, "jane@example.com", &oauth2.Token{
		AccessToken:  "a",
		RefreshToken: "r",
		Expiry:       time.Now().Add(time.Hour),
	}))
	assert.True(t, creds.Has(ctx, "jane@example.com"))
	assert.False(t, creds.Has(ctx, "bob@example.com"), "credentials are per user")

	creds.Forget(ctx, "jane@example.com")
	assert.False(t, creds.Has(ctx, "jane@example.com"))
}

func TestCredentials_ForgetExpired(t *testing.T) {
	creds, store := newTestCredentials(t, newTokenServer(t))
	ctx := context.Background()

	require.NoError(t, creds.Store(ctx, "jane@example.com", &oauth2.Token{
		AccessToken: "a",
		Expiry:      time.Now().Add(-time.Hour),
	}))
	assert.False(t, creds.Has(ctx, "jane@example.com"), "expired tokens without refresh token are unusable")

	_, err := store.GetToken(ctx, "jane@example.com")
	require.ErrorIs(t, err, storage.ErrTokenExpired)

	creds.Forget(ctx, "jane@example.com")

	_, err = store.GetToken(ctx, "jane@example.com")
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)
}

func apiServer(t *testing.T) (*httptest.Server, func() string) {
	var (
		mu   sync.Mutex
		last string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		last = r.Header.Get("Authorization")
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv, func() string {
		mu.Lock()
		defer mu.Unlock()
		return last
	}
}

func TestCredentials_HTTPClient(t *testing.T) {
	ctx := context.Background()

	t.Run("no credentials", func(t *testing.T) {
		creds, _ := newTestCredentials(t, newTokenServer(t))

		_, err := creds.HTTPClient(ctx, "jane@example.com")
		assert.True(t, apperror.Is(err, apperror.Unauthenticated))

		_, err = creds.HTTPClient(ctx, "")
		assert.True(t, apperror.Is(err, apperror.Unauthenticated))
	})

	t.Run("valid token is used as is", func(t *testing.T) {
		ts := newTokenServer(t)
		creds, _ := newTestCredentials(t, ts)
		api, lastAuth := apiServer(t)

		require.NoError(t, creds.Store(ctx, "jane@example.com", &oauth2.Token{
			AccessToken:  "stored",
			RefreshToken: "r",
			TokenType:    "Bearer",
			Expiry:       time.Now().Add(time.Hour),
		}))

		hc, err := creds.HTTPClient(ctx, "jane@example.com")
		require.NoError(t, err)
		res, err := hc.Get(api.URL)
		require.NoError(t, err)
		res.Body.Close()

		assert.Equal(t, "Bearer stored", lastAuth())
		assert.Nil(t, ts.lastForm(), "no refresh expected")
	})

	t.Run("expired token is refreshed and persisted", func(t *testing.T) {
		ts := newTokenServer(t)
		creds, store := newTestCredentials(t, ts)
		api, lastAuth := apiServer(t)

		require.NoError(t, creds.Store(ctx, "jane@example.com", &oauth2.Token{
			AccessToken:  "stale",
			RefreshToken: "refresh-1",
			TokenType:    "Bearer",
			Expiry:       time.Now().Add(-time.Hour),
		}))

		hc, err := creds.HTTPClient(ctx, "jane@example.com")
		require.NoError(t, err)
		res, err := hc.Get(api.URL)
		require.NoError(t, err)
		res.Body.Close()

		assert.Equal(t, "Bearer access-1", lastAuth())
		assert.Equal(t, "refresh_token", ts.lastForm().Get("grant_type"))

		stored, err := store.GetToken(ctx, "jane@example.com")
		require.NoError(t, err)
		assert.Equal(t, "access-1", stored.AccessToken)
		assert.Equal(t, "refresh-1", stored.RefreshToken)
	})

	t.Run("rejected refresh forgets credentials", func(t *testing.T) {
		ts := newTokenServer(t)
		ts.reject = true
		creds, _ := newTestCredentials(t, ts)
		api, _ := apiServer(t)

		require.NoError(t, creds.Store(ctx, "jane@example.com", &oauth2.Token{
			AccessToken:  "stale",
			RefreshToken: "revoked",
			Expiry:       time.Now().Add(-time.Hour),
		}))

		hc, err := creds.HTTPClient(ctx, "jane@example.com")
		require.NoError(t, err)

		_, err = hc.Get(api.URL)
		require.Error(t, err)
		assert.True(t, apperror.Is(err, apperror.Unauthenticated), "got %v", err)
		assert.False(t, creds.Has(ctx, "jane@example.com"))
	})
}

func TestCredentials_TokenHTTPClient(t *testing.T) {
	creds, _ := newTestCredentials(t, newTokenServer(t))
	api, lastAuth := apiServer(t)

	hc := creds.TokenHTTPClient(context.Background(), &oauth2.Token{
		AccessToken: "fresh",
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(time.Hour),
	})
	res, err := hc.Get(api.URL)
	require.NoError(t, err)
	res.Body.Close()

	assert.Equal(t, "Bearer fresh", lastAuth())
}
