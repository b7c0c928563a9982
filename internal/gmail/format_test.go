package gmail

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gmail "google.golang.org/api/gmail/v1"

	"github.com/teemow/mailbridge/internal/apperror"
)

func TestNormalizeSender(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"name and address", "John Doe <john@example.com>", "John Doe - john@example.com"},
		{"plain address", "john@example.com", "john@example.com"},
		{"html entities", "Caf&eacute; Team &lt;team@cafe.example&gt;", "Café Team - team@cafe.example"},
		{"quoted name", `"Doe, John" <john@example.com>`, `"Doe, John" - john@example.com`},
		{"address only in brackets", "<john@example.com>", "john@example.com"},
		{"only opening bracket", "John <john@example.com", "John <john@example.com"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeSender(tt.raw))
		})
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		limit int
		want  string
	}{
		{"shorter", "hello", 10, "hello"},
		{"exact", "hello", 5, "hello"},
		{"longer", "hello world", 5, "hello"},
		{"multibyte", "grüße aus köln", 4, "grüß"},
		{"zero", "abc", 0, ""},
		{"negative limit", "abc", -1, "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Truncate(tt.in, tt.limit))
		})
	}

	long := strings.Repeat("é", MaxHeaderLength+20)
	assert.Equal(t, MaxHeaderLength, len([]rune(Truncate(long, MaxHeaderLength))))
}

func TestDecodeBody(t *testing.T) {
	text := "Hi!\r\nSee you at 10?!"
	padded := base64.URLEncoding.EncodeToString([]byte(text))
	unpadded := base64.RawURLEncoding.EncodeToString([]byte(text))
	require.NotEqual(t, padded, unpadded, "fixture must exercise missing padding")

	for _, data := range []string{padded, unpadded, unpadded + "=="} {
		got, err := DecodeBody(data)
		require.NoError(t, err)
		assert.Equal(t, text, got)
	}

	first, _ := DecodeBody(unpadded)
	second, _ := DecodeBody(unpadded)
	assert.Equal(t, first, second)

	_, err := DecodeBody("not base64 at all!")
	assert.Error(t, err)

	invalid, err := DecodeBody(base64.RawURLEncoding.EncodeToString([]byte{'a', 0xff, 'b'}))
	require.NoError(t, err)
	assert.Equal(t, "a\uFFFDb", invalid)
}

func TestHeaderValue(t *testing.T) {
	msg := &gmail.Message{Payload: &gmail.MessagePart{Headers: []*gmail.MessagePartHeader{
		{Name: "from", Value: "first@example.com"},
		{Name: "From", Value: "second@example.com"},
		{Name: "SUBJECT", Value: "Quarterly report"},
	}}}

	assert.Equal(t, "first@example.com", HeaderValue(msg, "From", DefaultSender))
	assert.Equal(t, "Quarterly report", HeaderValue(msg, "Subject", DefaultSubject))
	assert.Equal(t, "fallback", HeaderValue(msg, "Reply-To", "fallback"))
	assert.Equal(t, DefaultSubject, HeaderValue(&gmail.Message{}, "Subject", DefaultSubject))
	assert.Equal(t, DefaultSender, HeaderValue(nil, "From", DefaultSender))
}

func encode(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

func TestExtractBody(t *testing.T) {
	tests := []struct {
		name    string
		payload *gmail.MessagePart
		want    string
	}{
		{
			name: "first plain part",
			payload: &gmail.MessagePart{
				MimeType: "multipart/alternative",
				Parts: []*gmail.MessagePart{
					{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: encode("plain one")}},
					{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: encode("plain two")}},
					{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: encode("<p>html</p>")}},
				},
			},
			want: "plain one",
		},
		{
			name: "skips empty plain part",
			payload: &gmail.MessagePart{
				Parts: []*gmail.MessagePart{
					{MimeType: "text/plain", Body: &gmail.MessagePartBody{}},
					{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: encode("second")}},
				},
			},
			want: "second",
		},
		{
			name: "nested multipart",
			payload: &gmail.MessagePart{
				MimeType: "multipart/mixed",
				Parts: []*gmail.MessagePart{
					{MimeType: "multipart/alternative", Parts: []*gmail.MessagePart{
						{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: encode("nested")}},
					}},
				},
			},
			want: "nested",
		},
		{
			name: "top-level body fallback",
			payload: &gmail.MessagePart{
				MimeType: "text/plain",
				Body:     &gmail.MessagePartBody{Data: encode("top level")},
			},
			want: "top level",
		},
		{
			name: "html fallback is stripped",
			payload: &gmail.MessagePart{
				MimeType: "text/html",
				Body:     &gmail.MessagePartBody{Data: encode("<p>Hello &amp; <b>welcome</b></p>")},
			},
			want: "Hello & welcome",
		},
		{
			name:    "no body",
			payload: &gmail.MessagePart{MimeType: "multipart/mixed"},
			want:    "",
		},
		{
			name:    "nil payload",
			payload: nil,
			want:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractBody(tt.payload)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCleanBody(t *testing.T) {
	assert.Equal(t, "line one\nline two", CleanBody("  line one\r\nline two \r\n", 500))
	assert.Equal(t, "abc", CleanBody("abcdef", 3))

	long := strings.Repeat("x", 1200)
	assert.Len(t, CleanBody(long, DefaultBodyLimit), DefaultBodyLimit)
	assert.Len(t, CleanBody(long, 1000), 1000)
}

func TestSendRequestMessage(t *testing.T) {
	str := func(s string) *string { return &s }

	tests := []struct {
		name        string
		req         SendRequest
		want        *OutgoingMessage
		errContains string
	}{
		{
			name: "complete",
			req:  SendRequest{To: str("a@example.com"), Subject: str("Hi"), Body: str("Hello")},
			want: &OutgoingMessage{To: "a@example.com", Subject: "Hi", Body: "Hello"},
		},
		{
			name: "empty subject and body",
			req:  SendRequest{To: str("a@example.com"), Subject: str(""), Body: str("")},
			want: &OutgoingMessage{To: "a@example.com"},
		},
		{
			name:        "missing to",
			req:         SendRequest{Subject: str("Hi"), Body: str("Hello")},
			errContains: "to is required",
		},
		{
			name:        "missing subject",
			req:         SendRequest{To: str("a@example.com"), Body: str("Hello")},
			errContains: "subject is required",
		},
		{
			name:        "missing body",
			req:         SendRequest{To: str("a@example.com"), Subject: str("Hi")},
			errContains: "body is required",
		},
		{
			name:        "multi-line subject",
			req:         SendRequest{To: str("a@example.com"), Subject: str("Hi\nBcc: b@example.com"), Body: str("")},
			errContains: "single-line",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := tt.req.Message()
			if tt.errContains != "" {
				require.Error(t, err)
				assert.True(t, apperror.Is(err, apperror.InvalidArgument))
				assert.Contains(t, err.Error(), tt.errContains)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, msg)
		})
	}
}

func TestOutgoingMessageValidate(t *testing.T) {
	tests := []struct {
		name        string
		msg         OutgoingMessage
		errContains string
	}{
		{"valid", OutgoingMessage{To: "a@example.com", Subject: "Hi", Body: "Hello"}, ""},
		{"empty subject and body", OutgoingMessage{To: "a@example.com"}, ""},
		{"missing to", OutgoingMessage{Subject: "Hi", Body: "Hello"}, "to is required"},
		{"blank to", OutgoingMessage{To: "  ", Subject: "Hi", Body: "Hello"}, "to is required"},
		{"header injection", OutgoingMessage{To: "a@example.com\r\nBcc: b@example.com", Subject: "Hi", Body: "x"}, "single-line"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if tt.errContains == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestBuildRFC2822(t *testing.T) {
	raw := BuildRFC2822(&OutgoingMessage{To: "bob@example.com", Subject: "Grüße", Body: "Hallo Bob"})

	assert.Contains(t, raw, "To: bob@example.com\r\n")
	assert.Contains(t, raw, "Subject: =?UTF-8?b?")
	assert.Contains(t, raw, "Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	assert.True(t, strings.HasSuffix(raw, "\r\n\r\nHallo Bob"))

	ascii := BuildRFC2822(&OutgoingMessage{To: "bob@example.com", Subject: "Hello", Body: "x"})
	assert.Contains(t, ascii, "Subject: Hello\r\n")
}
