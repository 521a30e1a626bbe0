package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/MrSnakeDoc/lbwatch/internal/index"
	"github.com/MrSnakeDoc/lbwatch/internal/logger"
	redisstore "github.com/MrSnakeDoc/lbwatch/internal/store/redis"
)

// Publisher persists the inventory to Redis after every publication and on
// a fixed interval, so entries never reach their TTL while still live.
type Publisher struct {
	store    *redisstore.Store
	index    *index.MemoryIndex
	logger   logger.Logger
	interval time.Duration
	updates  <-chan struct{}
	stopCh   chan struct{}
}

// NewPublisher creates a new publisher. It subscribes to idx right away so
// no publication made before Start is missed.
func NewPublisher(
	store *redisstore.Store,
	idx *index.MemoryIndex,
	log logger.Logger,
	interval time.Duration,
) *Publisher {
	return &Publisher{
		store:    store,
		index:    idx,
		logger:   log,
		interval: interval,
		updates:  idx.Subscribe(),
		stopCh:   make(chan struct{}),
	}
}

// Start begins publishing in the background
func (p *Publisher) Start(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-p.updates:
				p.publishLogged(ctx)
			case <-ticker.C:
				p.publishLogged(ctx)
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the publisher
func (p *Publisher) Stop() {
	close(p.stopCh)
}

func (p *Publisher) publishLogged(ctx context.Context) {
	if err := p.Publish(ctx); err != nil {
		p.logger.Warn("failed to publish inventory to redis", logger.Error(err))
	}
}

// Publish saves every service of the current inventory and deletes stored
// services it no longer holds. Nothing is written until a live source has
// reported, so a restart never wipes the persisted copy.
func (p *Publisher) Publish(ctx context.Context) error {
	inv := p.index.Snapshot()
	if !inv.Live {
		p.logger.Debug("inventory has no live data yet, skipping publish")
		return nil
	}

	if err := p.store.SaveServicesMany(ctx, inv.Services); err != nil {
		return fmt.Errorf("save inventory version %d: %w", inv.Version, err)
	}

	pruned, err := p.store.PruneServices(ctx, inv.Services)
	if err != nil {
		return fmt.Errorf("prune inventory version %d: %w", inv.Version, err)
	}

	p.logger.Debug("inventory published to redis",
		logger.Uint64("version", inv.Version),
		logger.Int("services", len(inv.Services)),
		logger.Int("pruned", len(pruned)))
	return nil
}
