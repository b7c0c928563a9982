package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/teemow/mailbridge/internal/apperror"
	"github.com/teemow/mailbridge/internal/instrumentation"
	"github.com/teemow/mailbridge/internal/logging"
)

// Config configures a Service.
type Config struct {
	// Endpoint overrides the Gmail API base URL. Empty uses Google's.
	Endpoint string

	// BodyLimit is the detail body limit in characters (default: DefaultBodyLimit).
	BodyLimit int

	Breaker BreakerSettings
	Metrics *instrumentation.Metrics
	Logger  *slog.Logger
}

// Service builds per-user Gmail clients. All clients share one circuit
// breaker, so an outage seen by one user protects the others.
type Service struct {
	endpoint  string
	bodyLimit int
	breaker   *gobreaker.CircuitBreaker
	metrics   *instrumentation.Metrics
	logger    *slog.Logger
}

// NewService creates a Service from cfg, filling in defaults.
func NewService(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.BodyLimit <= 0 {
		cfg.BodyLimit = DefaultBodyLimit
	}
	if cfg.Breaker == (BreakerSettings{}) {
		cfg.Breaker = DefaultBreakerSettings()
	}

	return &Service{
		endpoint:  cfg.Endpoint,
		bodyLimit: cfg.BodyLimit,
		breaker:   newBreaker(cfg.Breaker, cfg.Logger, cfg.Metrics),
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
	}
}

// Client wraps the Gmail Users service for one authenticated user.
type Client struct {
	users *gmail.UsersService
	user  string
	svc   *Service
}

// NewClient creates a Gmail client that authenticates through httpClient,
// which is expected to carry the user's OAuth token.
func (s *Service) NewClient(ctx context.Context, user string, httpClient *http.Client) (*Client, error) {
	opts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if s.endpoint != "" {
		opts = append(opts, option.WithEndpoint(s.endpoint))
	}

	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, apperror.Wrap(apperror.Internal, err, "failed to create Gmail service")
	}

	return &Client{users: svc.Users, user: user, svc: s}, nil
}

// call runs fn through the circuit breaker and records a span and metrics
// for it. Errors are classified into apperror kinds.
func (c *Client) call(ctx context.Context, operation, errMsg string, fn func(ctx context.Context) error, attrs ...attribute.KeyValue) error {
	ctx, span := instrumentation.StartGmailSpan(ctx, operation, attrs...)
	start := time.Now()

	_, err := c.svc.breaker.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	err = classifyError(errMsg, err)

	status := instrumentation.StatusSuccess
	if err != nil {
		status = instrumentation.StatusError
		c.svc.logger.Debug("gmail call failed",
			logging.Operation("gmail."+operation),
			logging.UserHash(c.user),
			slog.String("trace_id", instrumentation.GetTraceID(ctx)),
			logging.Err(err))
	}
	c.svc.metrics.RecordGmailOperation(ctx, operation, status, c.user, time.Since(start))
	instrumentation.EndSpan(span, err)

	return err
}

// Profile returns the mailbox address of the authenticated user.
func (c *Client) Profile(ctx context.Context) (string, error) {
	var address string
	err := c.call(ctx, instrumentation.OperationProfile, "failed to read Gmail profile", func(ctx context.Context) error {
		profile, err := c.users.GetProfile("me").Context(ctx).Do()
		if err != nil {
			return err
		}
		address = profile.EmailAddress
		return nil
	})
	if err != nil {
		return "", err
	}
	if address == "" {
		return "", apperror.New(apperror.UpstreamFailure, "Gmail profile has no email address")
	}
	return address, nil
}

// ListLatest returns summaries of the most recent messages, newest first as
// ordered by Gmail. count is clamped to 1..MaxLatestCount; zero means
// DefaultLatestCount. query is an optional Gmail search expression.
func (c *Client) ListLatest(ctx context.Context, count int, query string) ([]EmailSummary, error) {
	switch {
	case count == 0:
		count = DefaultLatestCount
	case count < 0:
		count = 1
	case count > MaxLatestCount:
		count = MaxLatestCount
	}

	var refs []*gmail.Message
	err := c.call(ctx, instrumentation.OperationList, "failed to list messages", func(ctx context.Context) error {
		req := c.users.Messages.List("me").MaxResults(int64(count)).Context(ctx)
		if query != "" {
			req = req.Q(query)
		}
		res, err := req.Do()
		if err != nil {
			return err
		}
		refs = res.Messages
		return nil
	}, attribute.Int(instrumentation.SpanAttrCount, count))
	if err != nil {
		return nil, err
	}

	summaries := make([]EmailSummary, 0, len(refs))
	for _, ref := range refs {
		var msg *gmail.Message
		err := c.call(ctx, instrumentation.OperationGet, fmt.Sprintf("failed to get message %s", ref.Id), func(ctx context.Context) error {
			var err error
			msg, err = c.users.Messages.Get("me", ref.Id).
				Format("metadata").
				MetadataHeaders("From", "Subject").
				Context(ctx).
				Do()
			return err
		}, attribute.String(instrumentation.SpanAttrMessageID, ref.Id))
		if err != nil {
			return nil, err
		}
		if msg.Id == "" {
			msg.Id = ref.Id
		}
		summaries = append(summaries, summarize(msg))
	}

	return summaries, nil
}

// GetDetail returns sender, subject and the cleaned plain-text body of a message.
func (c *Client) GetDetail(ctx context.Context, id string) (*EmailDetail, error) {
	if id == "" {
		return nil, apperror.New(apperror.InvalidArgument, "Missing email ID")
	}

	var msg *gmail.Message
	err := c.call(ctx, instrumentation.OperationGet, fmt.Sprintf("failed to get message %s", id), func(ctx context.Context) error {
		var err error
		msg, err = c.users.Messages.Get("me", id).Format("full").Context(ctx).Do()
		return err
	}, attribute.String(instrumentation.SpanAttrMessageID, id))
	if err != nil {
		return nil, err
	}

	body, err := ExtractBody(msg.Payload)
	if err != nil {
		return nil, apperror.Wrap(apperror.UpstreamFailure, err, "failed to decode message body")
	}

	return &EmailDetail{
		From:    Truncate(NormalizeSender(HeaderValue(msg, "From", DefaultSender)), MaxHeaderLength),
		Subject: Truncate(HeaderValue(msg, "Subject", DefaultSubject), MaxHeaderLength),
		Body:    CleanBody(body, c.svc.bodyLimit),
	}, nil
}

// Send sends a plain-text message and returns the Gmail id of the sent message.
func (c *Client) Send(ctx context.Context, msg *OutgoingMessage) (string, error) {
	if err := msg.Validate(); err != nil {
		return "", err
	}

	raw := base64.URLEncoding.EncodeToString([]byte(BuildRFC2822(msg)))

	var sentID string
	err := c.call(ctx, instrumentation.OperationSend, "failed to send email", func(ctx context.Context) error {
		sent, err := c.users.Messages.Send("me", &gmail.Message{Raw: raw}).Context(ctx).Do()
		if err != nil {
			return err
		}
		sentID = sent.Id
		return nil
	})
	if err != nil {
		return "", err
	}

	c.svc.logger.Info("email sent",
		logging.UserHash(c.user),
		logging.MessageID(sentID))
	return sentID, nil
}

// BuildRFC2822 renders msg as an RFC 2822 plain-text message.
func BuildRFC2822(msg *OutgoingMessage) string {
	var b strings.Builder

	b.WriteString("To: ")
	b.WriteString(msg.To)
	b.WriteString("\r\n")

	b.WriteString("Subject: ")
	b.WriteString(encodeRFC2047(msg.Subject))
	b.WriteString("\r\n")

	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.Body)

	return b.String()
}

// encodeRFC2047 encodes non-ASCII header values as RFC 2047 encoded-words.
func encodeRFC2047(s string) string {
	for _, r := range s {
		if r > 127 {
			return mime.BEncoding.Encode("UTF-8", s)
		}
	}
	return s
}
