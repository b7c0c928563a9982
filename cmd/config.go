package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/teemow/mailbridge/internal/auth"
	"github.com/teemow/mailbridge/internal/gmail"
	"github.com/teemow/mailbridge/internal/logging"
	"github.com/teemow/mailbridge/internal/server"
)

// Configuration keys. Each is also read from the environment variable of
// the same name in upper case.
const (
	keyGoogleCredentials = "google_credentials"
	keyPort              = "port"
	keyRedirectURL       = "redirect_url"
	keySessionSecret     = "session_secret"
	keySessionTTL        = "session_ttl"
	keyLatestCount       = "latest_count"
	keyBodyLimit         = "body_limit"
	keyMetricsEnabled    = "metrics_enabled"
	keyMetricsAddr       = "metrics_addr"
	keyLogFormat         = "log_format"
	keyDebug             = "debug"
	keySecureCookies     = "secure_cookies"
	keyAuthRate          = "auth_rate"
	keyAuthBurst         = "auth_burst"
	keyTrustedProxies    = "trusted_proxies"
)

const defaultPort = 3000

// serveConfig is the resolved configuration of the serve command.
type serveConfig struct {
	GoogleCredentials []byte
	Port              int
	RedirectURL       string

	SessionSecret []byte
	SessionTTL    time.Duration
	SecureCookies bool

	LatestCount int
	BodyLimit   int

	AuthRate       float64
	AuthBurst      int
	TrustedProxies int

	MetricsEnabled bool
	MetricsAddr    string

	LogFormat string
	Debug     bool
}

// addServeFlags defines the serve flags and binds each to its key in v.
func addServeFlags(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("google-credentials", "", "Google OAuth client JSON, or a path to it (GOOGLE_CREDENTIALS, required)")
	flags.Int("port", defaultPort, "HTTP port (PORT)")
	flags.String("redirect-url", "", "OAuth redirect URL (REDIRECT_URL, default http://localhost:<port>/oauth2callback)")
	flags.String("session-secret", "", "HMAC secret for session tokens, at least 32 bytes (SESSION_SECRET, random per process when empty)")
	flags.Duration("session-ttl", auth.DefaultSessionTTL, "Session token lifetime (SESSION_TTL)")
	flags.Bool("secure-cookies", false, "Mark cookies Secure; enable behind HTTPS (SECURE_COOKIES)")
	flags.Int("latest-count", gmail.DefaultLatestCount, "Number of messages returned by /emails/latest, 1 to 5 (LATEST_COUNT)")
	flags.Int("body-limit", gmail.DefaultBodyLimit, "Maximum characters of a message body in /emails/detail (BODY_LIMIT)")
	flags.Float64("auth-rate", float64(server.DefaultAuthRate), "Requests per second per IP on the OAuth routes (AUTH_RATE)")
	flags.Int("auth-burst", server.DefaultAuthBurst, "Burst per IP on the OAuth routes (AUTH_BURST)")
	flags.Int("trusted-proxies", 0, "Number of reverse proxies whose X-Forwarded-For entries identify clients (TRUSTED_PROXIES)")
	flags.Bool("metrics-enabled", true, "Serve Prometheus metrics on a dedicated port (METRICS_ENABLED)")
	flags.String("metrics-addr", server.DefaultMetricsAddr, "Metrics server address (METRICS_ADDR)")
	flags.String("log-format", logging.FormatJSON, "Log format: json or text (LOG_FORMAT)")
	flags.Bool("debug", false, "Enable debug logging (DEBUG)")

	flags.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
	})
	v.AutomaticEnv()
}

// loadServeConfig resolves and validates the configuration held by v.
func loadServeConfig(v *viper.Viper) (serveConfig, error) {
	cfg := serveConfig{
		Port:           v.GetInt(keyPort),
		RedirectURL:    v.GetString(keyRedirectURL),
		SessionTTL:     v.GetDuration(keySessionTTL),
		SecureCookies:  v.GetBool(keySecureCookies),
		LatestCount:    v.GetInt(keyLatestCount),
		BodyLimit:      v.GetInt(keyBodyLimit),
		AuthRate:       v.GetFloat64(keyAuthRate),
		AuthBurst:      v.GetInt(keyAuthBurst),
		TrustedProxies: v.GetInt(keyTrustedProxies),
		MetricsEnabled: v.GetBool(keyMetricsEnabled),
		MetricsAddr:    v.GetString(keyMetricsAddr),
		LogFormat:      v.GetString(keyLogFormat),
		Debug:          v.GetBool(keyDebug),
	}

	creds, err := readCredentials(v.GetString(keyGoogleCredentials))
	if err != nil {
		return serveConfig{}, err
	}
	cfg.GoogleCredentials = creds

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return serveConfig{}, fmt.Errorf("invalid port %d", cfg.Port)
	}
	if cfg.RedirectURL == "" {
		cfg.RedirectURL = fmt.Sprintf("http://localhost:%d/oauth2callback", cfg.Port)
	}
	if cfg.LatestCount < 1 || cfg.LatestCount > gmail.MaxLatestCount {
		return serveConfig{}, fmt.Errorf("latest count must be between 1 and %d, got %d", gmail.MaxLatestCount, cfg.LatestCount)
	}
	if cfg.TrustedProxies < 0 {
		return serveConfig{}, fmt.Errorf("trusted proxies must not be negative, got %d", cfg.TrustedProxies)
	}
	if cfg.BodyLimit < 1 {
		return serveConfig{}, fmt.Errorf("body limit must be positive, got %d", cfg.BodyLimit)
	}

	if secret := v.GetString(keySessionSecret); secret != "" {
		if len(secret) < 32 {
			return serveConfig{}, fmt.Errorf("session secret must be at least 32 bytes, got %d", len(secret))
		}
		cfg.SessionSecret = []byte(secret)
	}

	return cfg, nil
}

// readCredentials returns the OAuth client JSON. value is either the JSON
// document itself or the path of a file holding it.
func readCredentials(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, fmt.Errorf("GOOGLE_CREDENTIALS is required")
	}
	if strings.HasPrefix(value, "{") {
		return []byte(value), nil
	}

	data, err := os.ReadFile(value)
	if err != nil {
		return nil, fmt.Errorf("failed to read google credentials file: %w", err)
	}
	return data, nil
}
