package observability

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultShutdownTimeout bounds Shutdown when ctx carries no deadline
const DefaultShutdownTimeout = 5 * time.Second

// Shutdown exports buffered telemetry and then stops provider. Pending spans
// and metrics are flushed first so that a slow exporter does not drop them.
func Shutdown(ctx context.Context, provider Provider) error {
	if provider == nil {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultShutdownTimeout)
		defer cancel()
	}

	flushErr := provider.ForceFlush(ctx)
	if err := errors.Join(flushErr, provider.Shutdown(ctx)); err != nil {
		return fmt.Errorf("observability shutdown: %w", err)
	}
	return nil
}
