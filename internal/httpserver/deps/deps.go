package deps

import (
	"time"

	"github.com/MrSnakeDoc/lbwatch/internal/index"
	"github.com/MrSnakeDoc/lbwatch/internal/logger"
	"github.com/MrSnakeDoc/lbwatch/internal/metrics"
	"github.com/MrSnakeDoc/lbwatch/internal/watcher"
)

// SourceStatus reports the state of one registry watcher.
type SourceStatus interface {
	Status() watcher.Status
}

type Deps struct {
	Logger         logger.Logger
	StartTime      time.Time
	Version        string
	Commit         string
	BuildDate      string
	GoVersion      string
	AllowedHosts   []string           // Host headers allowed to access the server
	AllowedCIDRS   []string           // IPs allowed to trigger a reload
	TrustProxy     bool               // true if running behind a trusted reverse proxy
	RateLimitRPS   float64            // per client IP, 0 disables rate limiting
	RateLimitBurst int                // per client IP
	MemoryIndex    *index.MemoryIndex // merged inventory
	Sources        []SourceStatus     // one per configured registry
	Metrics        *metrics.Registry  // nil disables GET /metrics
	ReloadTrigger  chan struct{}      // overrides reload, nil when overrides are disabled
}
