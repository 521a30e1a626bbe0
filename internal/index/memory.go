package index

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrSnakeDoc/lbwatch/internal/domain"
	"github.com/MrSnakeDoc/lbwatch/internal/logger"
	"github.com/MrSnakeDoc/lbwatch/internal/metrics"
	"github.com/MrSnakeDoc/lbwatch/internal/registrator"
	"github.com/MrSnakeDoc/lbwatch/internal/watcher"
)

// Overrider adjusts a merged service before it is published.
type Overrider interface {
	Apply(svc *domain.Service) *domain.Service
}

// Inventory is one published, read-only view of every service.
type Inventory struct {
	Services  map[string]*domain.Service // "<port>/<protocol>" -> Service
	Version   uint64
	UpdatedAt time.Time
	Live      bool // at least one source has reported
	Seeded    bool // built from the persisted copy, no live source yet
}

// Sorted returns the services ordered by key.
func (inv *Inventory) Sorted() []*domain.Service {
	keys := slices.Sorted(maps.Keys(inv.Services))
	out := make([]*domain.Service, len(keys))
	for i, k := range keys {
		out[i] = inv.Services[k]
	}
	return out
}

// Servers returns the number of servers across all services.
func (inv *Inventory) Servers() int {
	n := 0
	for _, svc := range inv.Services {
		n += svc.Len()
	}
	return n
}

type sourceEntry struct {
	src      watcher.Source
	snapshot registrator.Snapshot
	reported bool
}

// MemoryIndex merges the snapshots of every source into one inventory.
//
// For each service key the snapshot of the highest-priority source holding
// that key wins. The winner is reconciled against the previously published
// service so unchanged servers keep their slot. Readers get the published
// inventory through an atomic pointer and never block writers.
type MemoryIndex struct {
	mu          sync.Mutex // serializes writers
	sources     map[string]*sourceEntry
	seed        registrator.Snapshot
	overrides   Overrider
	subscribers []chan struct{}

	published atomic.Pointer[Inventory]

	logger  logger.Logger
	metrics *metrics.Registry
}

// NewMemoryIndex creates an empty index. m may be nil.
func NewMemoryIndex(log logger.Logger, m *metrics.Registry) *MemoryIndex {
	idx := &MemoryIndex{
		sources: make(map[string]*sourceEntry),
		logger:  log,
		metrics: m,
	}
	idx.published.Store(&Inventory{Services: map[string]*domain.Service{}})
	return idx
}

// Register makes src count for readiness before it reports anything.
func (idx *MemoryIndex) Register(src watcher.Source) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, ok := idx.sources[src.Name()]; !ok {
		idx.sources[src.Name()] = &sourceEntry{src: src}
	}
}

// Update stores the latest snapshot of src and republishes.
func (idx *MemoryIndex) Update(src watcher.Source, snapshot registrator.Snapshot) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.sources[src.Name()] = &sourceEntry{src: src, snapshot: snapshot, reported: true}
	idx.rebuild()
}

// Seed publishes a persisted inventory while no live source has reported.
// It is ignored once one has.
func (idx *MemoryIndex) Seed(services map[string]*domain.Service) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.seed = services
	idx.rebuild()
}

// SetOverrides installs o and republishes. A nil o removes overrides.
func (idx *MemoryIndex) SetOverrides(o Overrider) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.overrides = o
	idx.rebuild()
}

// Subscribe returns a channel signalled after every publication. Signals
// are coalesced: a slow reader sees one pending signal, not a backlog.
func (idx *MemoryIndex) Subscribe() <-chan struct{} {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	ch := make(chan struct{}, 1)
	idx.subscribers = append(idx.subscribers, ch)
	return ch
}

// Ready reports whether at least one registered source is healthy.
func (idx *MemoryIndex) Ready() bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, e := range idx.sources {
		if e.src.IsHealthy() {
			return true
		}
	}
	return false
}

// Snapshot returns the current inventory. It must not be modified.
func (idx *MemoryIndex) Snapshot() *Inventory { return idx.published.Load() }

// GetService retrieves a service by "<port>/<protocol>" key
func (idx *MemoryIndex) GetService(key string) (*domain.Service, bool) {
	svc, ok := idx.published.Load().Services[key]
	return svc, ok
}

// GetAllServices returns all services ordered by key
func (idx *MemoryIndex) GetAllServices() []*domain.Service {
	return idx.published.Load().Sorted()
}

// Count returns the number of services in the index
func (idx *MemoryIndex) Count() int {
	return len(idx.published.Load().Services)
}

// GetLastReload returns the time of the last publication
func (idx *MemoryIndex) GetLastReload() time.Time {
	return idx.published.Load().UpdatedAt
}

// rebuild merges, reconciles and publishes. Callers hold idx.mu.
func (idx *MemoryIndex) rebuild() {
	candidates, live := idx.merge()
	prev := idx.published.Load()

	next := &Inventory{
		Services:  make(map[string]*domain.Service, len(candidates)),
		Version:   prev.Version + 1,
		UpdatedAt: time.Now(),
		Live:      live,
		Seeded:    !live && len(candidates) > 0,
	}

	for key, svc := range candidates {
		if idx.overrides != nil {
			svc = idx.overrides.Apply(svc)
		}
		if old, ok := prev.Services[key]; ok {
			svc = old.Update(svc).
				WithApplication(svc.Application()).
				WithHealthcheck(svc.Healthcheck(), svc.HealthcheckURL())
		}
		next.Services[key] = svc
	}

	idx.published.Store(next)

	if idx.metrics != nil {
		idx.metrics.IncPublish(context.Background())
		idx.metrics.SetInventory(len(next.Services), next.Servers())
	}
	idx.logger.Debug("inventory published",
		logger.Uint64("version", next.Version),
		logger.Int("services", len(next.Services)),
		logger.Bool("live", live))

	for _, ch := range idx.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// merge picks, for every key, the service of the highest-priority source
// holding it. Ties go to the source with the smallest name. Without any
// reporting source the seed is used and live is false.
func (idx *MemoryIndex) merge() (registrator.Snapshot, bool) {
	var live []*sourceEntry
	for _, e := range idx.sources {
		if e.reported {
			live = append(live, e)
		}
	}

	if len(live) == 0 {
		out := make(registrator.Snapshot, len(idx.seed))
		maps.Copy(out, idx.seed)
		return out, false
	}

	slices.SortFunc(live, func(a, b *sourceEntry) int {
		if c := cmp.Compare(b.src.Priority(), a.src.Priority()); c != 0 {
			return c
		}
		return cmp.Compare(a.src.Name(), b.src.Name())
	})

	out := make(registrator.Snapshot)
	for _, e := range live {
		for key, svc := range e.snapshot {
			if _, taken := out[key]; !taken {
				out[key] = svc
			}
		}
	}
	return out, true
}
