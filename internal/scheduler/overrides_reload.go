package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/MrSnakeDoc/lbwatch/internal/index"
	"github.com/MrSnakeDoc/lbwatch/internal/logger"
	"github.com/MrSnakeDoc/lbwatch/internal/sources/overrides"
)

// OverridesReloader handles periodic reloading of the overrides file
type OverridesReloader struct {
	loader        *overrides.Loader
	index         *index.MemoryIndex
	logger        logger.Logger
	interval      time.Duration
	stopCh        chan struct{}
	manualTrigger chan struct{}
}

// NewOverridesReloader creates a new overrides reloader
func NewOverridesReloader(
	overridesFile string,
	idx *index.MemoryIndex,
	log logger.Logger,
	interval time.Duration,
	manualTrigger chan struct{},
) *OverridesReloader {
	return &OverridesReloader{
		loader:        overrides.NewLoader(overridesFile),
		index:         idx,
		logger:        log,
		interval:      interval,
		stopCh:        make(chan struct{}),
		manualTrigger: manualTrigger,
	}
}

// Start loads the file once, then reloads it periodically and on manual
// trigger. A broken file at startup is an error; later failures keep the
// overrides already in place.
func (r *OverridesReloader) Start(ctx context.Context) error {
	if err := r.Reload(ctx); err != nil {
		return fmt.Errorf("initial overrides reload failed: %w", err)
	}

	ticker := time.NewTicker(r.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := r.Reload(ctx); err != nil {
					r.logger.Error("failed to reload overrides",
						logger.Error(err))
				}
			case <-r.manualTrigger:
				r.logger.Info("manual overrides reload triggered")
				if err := r.Reload(ctx); err != nil {
					r.logger.Error("failed to reload overrides",
						logger.Error(err))
				}
			case <-r.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop stops the reloader
func (r *OverridesReloader) Stop() {
	close(r.stopCh)
}

// Reload reads the overrides file and installs it in the index
func (r *OverridesReloader) Reload(ctx context.Context) error {
	r.logger.Debug("reloading overrides", logger.String("file", r.loader.Path()))

	config, err := r.loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load overrides: %w", err)
	}

	set, err := overrides.Compile(config)
	if err != nil {
		return fmt.Errorf("invalid overrides in %s: %w", r.loader.Path(), err)
	}

	r.index.SetOverrides(set)

	r.logger.Info("loaded service overrides",
		logger.Int("count", set.Len()))

	return nil
}
