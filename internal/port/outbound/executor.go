// Package outbound defines the outbound port interfaces the gateway's
// domain layer depends on but does not implement.
package outbound

import (
	"context"

	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/credential"
)

// ToolExecutor is the outbound port for running an allowed tool call
// against its real implementation.
type ToolExecutor interface {
	Execute(ctx context.Context, toolName string, arguments map[string]any, grant credential.Grant) (any, error)
}
