// Package watcher keeps one registry source in sync: it reads the whole
// watched tree, hands the parsed snapshot to a backend, then long-polls the
// registry until something changes and starts over.
package watcher

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrSnakeDoc/lbwatch/internal/logger"
	"github.com/MrSnakeDoc/lbwatch/internal/metrics"
	"github.com/MrSnakeDoc/lbwatch/internal/registrator"
	"github.com/MrSnakeDoc/lbwatch/internal/registry"
	"github.com/MrSnakeDoc/lbwatch/internal/resilience"
)

// DefaultPriority is the precedence of a registrator source.
const DefaultPriority = 5

// Source is what a backend knows about the watcher feeding it.
type Source interface {
	Name() string
	IsHealthy() bool
	Priority() int
}

// Backend receives every snapshot a source produces. Implementations must
// be safe for concurrent use by several watchers and must not modify the
// snapshot.
type Backend interface {
	Update(src Source, snapshot registrator.Snapshot)
}

// Runner drives a cycle forever; see resilience.Runner.
type Runner interface {
	Run(ctx context.Context, name string, cycle resilience.Cycle) error
}

// State is the position of a watcher in its cycle.
type State int32

const (
	StateInitial State = iota
	StateFetching
	StateWaiting
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateFetching:
		return "fetching"
	case StateWaiting:
		return "waiting"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Options tunes a Watcher. Zero values use the defaults.
type Options struct {
	Priority int
	Metrics  *metrics.Registry
	Tracer   trace.Tracer
}

// Watcher watches one registry path.
type Watcher struct {
	client   registry.Client
	parser   *registrator.Parser
	backend  Backend
	runner   Runner
	logger   logger.Logger
	metrics  *metrics.Registry
	tracer   trace.Tracer
	priority int

	// healthy only ever goes from false to true.
	healthy     atomic.Bool
	state       atomic.Int32
	cycles      atomic.Uint64
	failures    atomic.Uint64
	skipped     atomic.Uint64
	lastIndex   atomic.Uint64
	lastRefresh atomic.Int64 // unix nanos
}

// New builds a watcher reading client, parsing with parser and feeding
// backend. runner restarts failed cycles.
func New(client registry.Client, parser *registrator.Parser, backend Backend, runner Runner, opts Options, log logger.Logger) *Watcher {
	if opts.Priority == 0 {
		opts.Priority = DefaultPriority
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/MrSnakeDoc/lbwatch/internal/watcher")
	}

	return &Watcher{
		client:   client,
		parser:   parser,
		backend:  backend,
		runner:   runner,
		logger:   log.With(logger.String("registry", client.Address())),
		metrics:  opts.Metrics,
		tracer:   opts.Tracer,
		priority: opts.Priority,
	}
}

// Name identifies the source: the registry address.
func (w *Watcher) Name() string { return w.client.Address() }

// IsHealthy reports whether at least one full read has succeeded.
func (w *Watcher) IsHealthy() bool { return w.healthy.Load() }

func (w *Watcher) Priority() int { return w.priority }

func (w *Watcher) State() State { return State(w.state.Load()) }

// Start runs the watcher in its own goroutine until ctx is done. The
// returned channel is closed when it has stopped.
func (w *Watcher) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	return done
}

// Run blocks until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info("starting registry watcher", logger.Int("priority", w.priority))
	err := w.runner.Run(ctx, "etcd "+w.client.Address(), w.cycle)
	w.logger.Info("registry watcher stopped")
	return err
}

// cycle reads, publishes, then waits for the next change.
func (w *Watcher) cycle(ctx context.Context) (err error) {
	defer func() {
		if err != nil && ctx.Err() == nil {
			w.failures.Add(1)
			if w.metrics != nil {
				w.metrics.IncCycleFailure(ctx, w.Name())
			}
		}
	}()

	index, err := w.refresh(ctx)
	if err != nil {
		return err
	}

	w.state.Store(int32(StateWaiting))
	if err := w.client.Wait(ctx, index+1); err != nil {
		return fmt.Errorf("wait for changes after index %d: %w", index, err)
	}
	w.logger.Debug("registry changed", logger.Uint64("after_index", index))
	return nil
}

// refresh performs the full read and hands the snapshot to the backend.
// It returns the index the read is consistent with.
func (w *Watcher) refresh(ctx context.Context) (uint64, error) {
	ctx, span := w.tracer.Start(ctx, "registrator.refresh",
		trace.WithAttributes(attribute.String("registry.address", w.Name())))
	defer span.End()

	w.state.Store(int32(StateFetching))
	w.cycles.Add(1)

	start := time.Now()
	resp, err := w.client.Fetch(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return 0, fmt.Errorf("fetch services: %w", err)
	}
	if w.metrics != nil {
		w.metrics.ObserveFetch(ctx, w.Name(), time.Since(start))
		w.metrics.IncFetch(ctx, w.Name())
	}

	snapshot, errs := w.parser.Parse(ctx, resp.Node)
	w.skipped.Add(uint64(len(errs)))
	if w.metrics != nil {
		w.metrics.AddSkippedEntries(ctx, w.Name(), len(errs))
	}

	span.SetAttributes(
		attribute.Int64("registry.index", int64(resp.Index)),
		attribute.Int("services", len(snapshot)),
		attribute.Int("skipped_entries", len(errs)),
	)

	w.backend.Update(w, snapshot)
	w.lastIndex.Store(resp.Index)
	w.lastRefresh.Store(time.Now().UnixNano())

	if !w.healthy.Swap(true) && w.metrics != nil {
		w.metrics.SetSourceHealthy(w.Name(), true)
	}

	w.logger.Info("refreshed services from registrator store",
		logger.Int("services", len(snapshot)),
		logger.Int("servers", snapshot.Servers()),
		logger.Int("skipped", len(errs)),
		logger.Uint64("index", resp.Index))

	return resp.Index, nil
}

// Status is a point-in-time view of a watcher.
type Status struct {
	Name        string    `json:"name"`
	Priority    int       `json:"priority"`
	Healthy     bool      `json:"healthy"`
	State       string    `json:"state"`
	Cycles      uint64    `json:"cycles"`
	Failures    uint64    `json:"failures"`
	Skipped     uint64    `json:"skipped_entries"`
	LastIndex   uint64    `json:"last_index"`
	LastRefresh time.Time `json:"last_refresh,omitzero"`
}

func (w *Watcher) Status() Status {
	st := Status{
		Name:      w.Name(),
		Priority:  w.priority,
		Healthy:   w.IsHealthy(),
		State:     w.State().String(),
		Cycles:    w.cycles.Load(),
		Failures:  w.failures.Load(),
		Skipped:   w.skipped.Load(),
		LastIndex: w.lastIndex.Load(),
	}
	if ns := w.lastRefresh.Load(); ns > 0 {
		st.LastRefresh = time.Unix(0, ns)
	}
	return st
}
