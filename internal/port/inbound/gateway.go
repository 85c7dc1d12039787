// Package inbound defines the inbound port interfaces for the
// containment gateway. The HTTP adapter reaches the tool-call pipeline
// through GatewayService; the HTTP and admin adapters also use domain
// packages directly for their other routes.
package inbound

import (
	"context"

	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/toolcall"
)

// GatewayService is the inbound port for the tool-call pipeline.
type GatewayService interface {
	CallTool(ctx context.Context, req toolcall.Request) toolcall.Response
	AllowedTools(ctx context.Context, sessionID string) ([]string, error)
}
