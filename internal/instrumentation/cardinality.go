package instrumentation

import "strings"

// ExtractUserDomain extracts the domain part from an email address so that
// metrics never carry full mailbox addresses.
//
// Example:
//
//	ExtractUserDomain("jane@example.com")  // "example.com"
//	ExtractUserDomain("invalid")           // "unknown"
func ExtractUserDomain(email string) string {
	if _, domain, ok := strings.Cut(email, "@"); ok && domain != "" && !strings.Contains(domain, "@") {
		return strings.ToLower(domain)
	}
	return "unknown"
}

// Gmail operation names used in metrics and span names.
const (
	OperationList    = "list"
	OperationGet     = "get"
	OperationSend    = "send"
	OperationProfile = "profile"
)
