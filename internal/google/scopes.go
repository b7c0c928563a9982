package google

import gmail "google.golang.org/api/gmail/v1"

// Scopes are the OAuth scopes requested at consent: reading mail (which
// also covers the profile lookup that identifies the user) and sending mail.
var Scopes = []string{
	gmail.GmailReadonlyScope,
	gmail.GmailSendScope,
}
