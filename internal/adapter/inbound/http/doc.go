// Package http provides the HTTP transport adapter for the containment
// gateway.
//
// # Usage
//
// Create and start an HTTP transport:
//
//	transport := http.NewHTTPTransport(gatewayHandler,
//	    http.WithAddr(":8080"),
//	    http.WithTLS("cert.pem", "key.pem"),
//	    http.WithAllowedOrigins([]string{"https://example.com"}),
//	    http.WithLogger(logger),
//	)
//	err := transport.Start(ctx)
//
// # Endpoints
//
//	POST /tools/call                   - Invoke a tool through the pipeline
//	GET  /tools/list                   - List tools allowed for a session
//	GET  /sessions                     - List known session IDs
//	POST /sessions/{id}/kill           - Kill switch a session
//	POST /sessions/{id}/release        - Release a quarantined session
//	POST /tools/{name}/kill            - Kill switch a tool
//	POST /system/pause                 - Global kill switch
//	POST /system/resume                - Clear the global kill switch
//	GET  /sessions/{id}/evidence       - Export an evidence pack (json|html)
//	GET  /health                       - Liveness/readiness probe
//	GET  /metrics                      - Prometheus metrics
//
// # Request Headers
//
//	Authorization: Bearer <api-key>     - API key for authentication
//	X-Correlation-ID: <id>              - Optional caller-supplied correlation id
//	Content-Type: application/json      - Required for POST requests
//
// # Response Headers
//
//	X-Correlation-ID: <id>              - Echoed or assigned correlation id
//	X-RateLimit-Remaining: <n>           - Remaining calls in the current window
//	X-RateLimit-Reset: <seconds>         - Seconds until the window resets
//
// # Security Features
//
//   - TLS 1.2 minimum: when HTTPS is enabled via WithTLS
//   - DNS rebinding protection: Origin header validation via WithAllowedOrigins
//   - API key extraction: from Authorization header, consumed by downstream handlers
//   - Real IP extraction: from X-Forwarded-For/X-Real-IP for rate limiting
//
// # Middleware Chain
//
// Requests pass through middleware in this order (outermost first):
//
//  1. MetricsMiddleware - records request duration and status
//  2. RequestIDMiddleware - extracts/generates a request id, enriches the logger
//  3. RealIPMiddleware - extracts client IP from proxy headers
//  4. DNSRebindingProtection - validates Origin header
//  5. APIKeyMiddleware - extracts API key from Authorization header
//  6. CorrelationIDMiddleware - assigns/echoes X-Correlation-ID
//  7. GatewayHandler routes - dispatches to the pipeline orchestrator
package http
