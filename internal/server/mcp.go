package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/mailbridge/internal/apperror"
	"github.com/teemow/mailbridge/internal/gmail"
	"github.com/teemow/mailbridge/internal/instrumentation"
	"github.com/teemow/mailbridge/internal/logging"
)

// MCP tool names.
const (
	ToolLatestEmails = "gmail_latest_emails"
	ToolEmailDetail  = "gmail_email_detail"
	ToolSendEmail    = "gmail_send_email"
)

const notSignedInMessage = "Not signed in to Gmail. Open " + authorizePath + " in a browser to connect a mailbox, then call GET /session for a bearer token."

func newMCPServer(sc *ServerContext, version string) *mcpserver.MCPServer {
	s := mcpserver.NewMCPServer("mailbridge", version,
		mcpserver.WithToolCapabilities(true),
	)
	registerTools(s, &toolHandlers{sc: sc})
	return s
}

// mcpContext attaches the session user of an MCP HTTP request to the
// context tool handlers run with. Requests without a valid session still
// reach the server; tools then report that the user is not signed in.
func (s *Server) mcpContext(ctx context.Context, r *http.Request) context.Context {
	user, err := s.sc.Sessions().FromRequest(r)
	if err != nil {
		return ctx
	}
	return WithUser(ctx, user)
}

type toolHandlers struct {
	sc *ServerContext
}

func registerTools(s *mcpserver.MCPServer, h *toolHandlers) {
	latestTool := mcp.NewTool(ToolLatestEmails,
		mcp.WithDescription("List the most recent emails in the signed-in Gmail mailbox with sender and subject"),
		mcp.WithString("query",
			mcp.Description("Optional Gmail search query (e.g., 'is:unread', 'from:jane@example.com')"),
		),
		mcp.WithNumber("count",
			mcp.Description("Number of emails to return, 1 to 5 (default: 3)"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	s.AddTool(latestTool, h.instrument(ToolLatestEmails, h.latestEmails))

	detailTool := mcp.NewTool(ToolEmailDetail,
		mcp.WithDescription("Get the sender, subject and plain-text body of one email"),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Gmail message ID as returned by "+ToolLatestEmails),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	s.AddTool(detailTool, h.instrument(ToolEmailDetail, h.emailDetail))

	sendTool := mcp.NewTool(ToolSendEmail,
		mcp.WithDescription("Send a plain-text email from the signed-in Gmail mailbox"),
		mcp.WithString("to",
			mcp.Required(),
			mcp.Description("Recipient email address"),
		),
		mcp.WithString("subject",
			mcp.Required(),
			mcp.Description("Email subject"),
		),
		mcp.WithString("body",
			mcp.Required(),
			mcp.Description("Plain-text email body"),
		),
		mcp.WithDestructiveHintAnnotation(false),
	)
	s.AddTool(sendTool, h.instrument(ToolSendEmail, h.sendEmail))
}

// instrument wraps a tool handler with a span, a metric sample and a log line.
func (h *toolHandlers) instrument(name string, fn mcpserver.ToolHandlerFunc) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx, span := instrumentation.StartToolSpan(ctx, name)
		start := time.Now()

		result, err := fn(ctx, request)

		status := instrumentation.StatusSuccess
		if err != nil || (result != nil && result.IsError) {
			status = instrumentation.StatusError
		}
		duration := time.Since(start)
		h.sc.Metrics().RecordToolInvocation(ctx, name, status, duration)
		instrumentation.EndSpan(span, err)

		logging.WithTool(h.sc.Logger(), name).Debug("tool invoked",
			logging.Status(status),
			logging.Duration(duration))
		return result, err
	}
}

func (h *toolHandlers) client(ctx context.Context) (*gmail.Client, error) {
	user, ok := UserFromContext(ctx)
	if !ok {
		return nil, apperror.New(apperror.Unauthenticated, "not signed in")
	}
	return h.sc.GmailClient(ctx, user)
}

func (h *toolHandlers) latestEmails(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	client, err := h.client(ctx)
	if err != nil {
		return toolError(err), nil
	}

	summaries, err := client.ListLatest(ctx, request.GetInt("count", 0), request.GetString("query", ""))
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(summaries)
}

func (h *toolHandlers) emailDetail(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := request.GetString("id", "")
	if id == "" {
		return mcp.NewToolResultError("id is required"), nil
	}

	client, err := h.client(ctx)
	if err != nil {
		return toolError(err), nil
	}

	detail, err := client.GetDetail(ctx, id)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(detail)
}

func (h *toolHandlers) sendEmail(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	req := gmail.SendRequest{
		To:      stringArg(args, "to"),
		Subject: stringArg(args, "subject"),
		Body:    stringArg(args, "body"),
	}
	msg, err := req.Message()
	if err != nil {
		return toolError(err), nil
	}

	client, err := h.client(ctx)
	if err != nil {
		return toolError(err), nil
	}

	id, err := client.Send(ctx, msg)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]string{"status": sentMessage, "id": id})
}

// stringArg returns the string argument key, or nil when it is absent or
// not a string.
func stringArg(args map[string]any, key string) *string {
	v, ok := args[key].(string)
	if !ok {
		return nil
	}
	return &v
}

// toolError converts err into a tool result the model can read.
func toolError(err error) *mcp.CallToolResult {
	if apperror.Is(err, apperror.Unauthenticated) {
		return mcp.NewToolResultError(notSignedInMessage)
	}
	return mcp.NewToolResultError(apperror.Message(err))
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}
