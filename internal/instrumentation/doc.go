// Package instrumentation provides OpenTelemetry metrics and tracing for mailbridge.
//
// # Metrics
//
// HTTP:
//   - http_requests_total: requests by method, route pattern and status
//   - http_request_duration_seconds: request latency
//
// Gmail API:
//   - gmail_api_operations_total: calls by operation (list, get, send, profile) and status
//   - gmail_api_operation_duration_seconds: call latency
//   - gmail_circuit_breaker_transitions_total: breaker state changes
//
// OAuth:
//   - oauth_auth_total: completed authorization callbacks by result
//   - oauth_token_refresh_total: token refreshes by result
//   - stored_credentials: users with credentials in the store
//
// MCP tools:
//   - mcp_tool_invocations_total, mcp_tool_duration_seconds
//
// # Configuration
//
// DefaultConfig reads INSTRUMENTATION_ENABLED, METRICS_EXPORTER (prometheus,
// otlp, stdout), TRACING_EXPORTER (otlp, stdout, none),
// OTEL_EXPORTER_OTLP_ENDPOINT, OTEL_EXPORTER_OTLP_INSECURE,
// OTEL_TRACES_SAMPLER_ARG and METRICS_DETAILED_LABELS.
//
// Prometheus metrics are served by the metrics server in the server package.
package instrumentation
