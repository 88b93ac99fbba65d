package capability

import (
	"context"
	"log/slog"
)

// Builder constructs the capabilities contributed by one integration.
// Build returns an error when the integration is not configured or
// unreachable; discovery skips it and moves on.
type Builder struct {
	Name  string
	Build func(ctx context.Context) ([]*Capability, error)
}

// Discover runs every builder in order and registers each capability it
// produces. A builder that fails is logged and skipped; discovery is
// best-effort and partial success is normal. Returns the number of
// capabilities registered.
func (r *Registry) Discover(ctx context.Context, logger *slog.Logger, builders []Builder) int {
	if logger == nil {
		logger = slog.Default()
	}

	count := 0
	for _, b := range builders {
		caps, err := b.Build(ctx)
		if err != nil {
			logger.Error("capability builder skipped",
				"builder", b.Name,
				"error", err,
			)
			continue
		}
		for _, c := range caps {
			r.Register(c)
			count++
		}
		logger.Debug("capability builder loaded",
			"builder", b.Name,
			"count", len(caps),
		)
	}

	logger.Info("capability discovery complete", "registered", count)
	return count
}
