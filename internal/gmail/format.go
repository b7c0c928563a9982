package gmail

import (
	"encoding/base64"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	gmail "google.golang.org/api/gmail/v1"
)

var strictPolicy = bluemonday.StrictPolicy()

// NormalizeSender turns a From header into "Name - address" form.
// HTML entities are unescaped first. Values without both angle brackets are
// returned unchanged. A header with an empty display name yields the bare
// address.
//
//	NormalizeSender("John Doe <john@example.com>") // "John Doe - john@example.com"
func NormalizeSender(raw string) string {
	sender := html.UnescapeString(raw)
	if !strings.Contains(sender, "<") || !strings.Contains(sender, ">") {
		return sender
	}

	name, addr, _ := strings.Cut(sender, "<")
	addr = strings.TrimSpace(strings.ReplaceAll(addr, ">", ""))
	name = strings.TrimSpace(name)
	if name == "" {
		return addr
	}
	return name + " - " + addr
}

// Truncate cuts s to at most limit characters. It counts runes, so
// multi-byte characters are never split.
func Truncate(s string, limit int) string {
	if limit < 0 {
		return s
	}
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}

// DecodeBody decodes Gmail's base64url body data, restoring any padding the
// API stripped. Invalid UTF-8 sequences are replaced with U+FFFD.
func DecodeBody(data string) (string, error) {
	data = strings.TrimRight(data, "=")
	if rem := len(data) % 4; rem != 0 {
		data += strings.Repeat("=", 4-rem)
	}
	decoded, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		return "", err
	}
	return strings.ToValidUTF8(string(decoded), "\uFFFD"), nil
}

// HeaderValue returns the value of the first header whose name matches
// name case-insensitively, or def when there is none.
func HeaderValue(m *gmail.Message, name, def string) string {
	if m == nil || m.Payload == nil {
		return def
	}
	for _, h := range m.Payload.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return def
}

// ExtractBody returns the readable text of a message: the first text/plain
// part with data, searched depth-first, or else the top-level body. An HTML
// top-level body is reduced to its text.
func ExtractBody(payload *gmail.MessagePart) (string, error) {
	if payload == nil {
		return "", nil
	}

	if part := findPlainText(payload.Parts); part != nil {
		return DecodeBody(part.Body.Data)
	}

	if payload.Body == nil || payload.Body.Data == "" {
		return "", nil
	}
	body, err := DecodeBody(payload.Body.Data)
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(strings.ToLower(payload.MimeType), "text/html") {
		body = html.UnescapeString(strictPolicy.Sanitize(body))
	}
	return body, nil
}

func findPlainText(parts []*gmail.MessagePart) *gmail.MessagePart {
	for _, part := range parts {
		if part == nil {
			continue
		}
		if strings.EqualFold(part.MimeType, "text/plain") && part.Body != nil && part.Body.Data != "" {
			return part
		}
		if found := findPlainText(part.Parts); found != nil {
			return found
		}
	}
	return nil
}

// CleanBody normalizes line endings, trims surrounding whitespace and
// truncates to limit characters.
func CleanBody(body string, limit int) string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	return Truncate(strings.TrimSpace(body), limit)
}

// summarize builds the listing entry for a metadata-format message.
func summarize(m *gmail.Message) EmailSummary {
	return EmailSummary{
		ID:      m.Id,
		From:    Truncate(NormalizeSender(HeaderValue(m, "From", DefaultSender)), MaxHeaderLength),
		Subject: Truncate(HeaderValue(m, "Subject", DefaultSubject), MaxHeaderLength),
	}
}
