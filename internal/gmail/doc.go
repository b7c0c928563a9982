// Package gmail reads and sends mail through the Gmail API on behalf of one
// authenticated user.
//
// A Service is created once per process. It holds the circuit breaker and
// instrumentation shared by all users and hands out a Client per request:
//
//	svc := gmail.NewService(gmail.Config{Metrics: metrics, Logger: logger})
//	client, err := svc.NewClient(ctx, user, oauthHTTPClient)
//	latest, err := client.ListLatest(ctx, gmail.DefaultLatestCount, "")
//
// Every message returned to callers is shaped the same way: senders are
// normalized to "Name - address", sender and subject are cut to
// MaxHeaderLength characters and detail bodies to the configured body limit.
//
// Errors are apperror values: NotFound for unknown message ids,
// Unauthenticated when Google rejects the credentials, InvalidArgument for
// bad requests and UpstreamFailure for everything else, including an open
// circuit breaker.
package gmail
