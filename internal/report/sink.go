// Package report delivers confirmed probe results to external collectors.
package report

import (
	"context"

	"github.com/gateway-fm/pingthing/pkg/types"
)

// Sink receives one result per confirmed, successful probe. Errors are logged
// by the caller and never retried.
type Sink interface {
	Name() string
	Report(ctx context.Context, result types.ProbeResult) error
}
