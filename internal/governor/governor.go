// Package governor keeps long crawls inside a memory envelope by reclaiming
// memory on a processed-item schedule or under measured pressure.
package governor

import (
	"context"
	"runtime"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/metrics"
)

const (
	defaultLightInterval    = 5
	defaultHeavyInterval    = 20
	defaultPressureFraction = 0.8
	defaultPressureGap      = 5
)

// Pass identifies which reclamation ran after an Observe call.
type Pass string

// Reclamation passes.
const (
	PassNone   Pass = "none"
	PassLight  Pass = "light"
	PassForced Pass = "forced"
)

// Config controls the governor schedule.
//   - LightInterval: run a light pass every N items (default 5).
//   - HeavyInterval: run a forced pass every N items (default 20).
//   - MemoryCeiling: bytes; zero disables pressure checks.
//   - PressureFraction: fraction of MemoryCeiling that forces a pass (default 0.8).
//   - PressureGap: minimum items between forced passes triggered by pressure (default 5).
//   - Recycler: optional browser recycler invoked on forced passes.
type Config struct {
	LightInterval    int
	HeavyInterval    int
	MemoryCeiling    uint64
	PressureFraction float64
	PressureGap      int
	Reader           MemoryReader
	Recycler         crawler.Recycler
	Logger           *zap.Logger
}

// MemorySnapshot summarizes governor activity for stats endpoints.
type MemorySnapshot struct {
	Processed    int64        `json:"processed"`
	LightPasses  int64        `json:"light_passes"`
	ForcedPasses int64        `json:"forced_passes"`
	Last         MemorySample `json:"last"`
	Ceiling      uint64       `json:"ceiling"`
}

// Governor is safe for concurrent use.
type Governor struct {
	cfg    Config
	logger *zap.Logger

	// swapped in tests
	lightFn  func()
	forcedFn func()

	mu         sync.Mutex
	snap       MemorySnapshot
	lastForced int64
}

// New builds a Governor with defaults applied.
func New(cfg Config) *Governor {
	if cfg.LightInterval <= 0 {
		cfg.LightInterval = defaultLightInterval
	}
	if cfg.HeavyInterval <= 0 {
		cfg.HeavyInterval = defaultHeavyInterval
	}
	if cfg.PressureFraction <= 0 || cfg.PressureFraction > 1 {
		cfg.PressureFraction = defaultPressureFraction
	}
	if cfg.PressureGap <= 0 {
		cfg.PressureGap = defaultPressureGap
	}
	if cfg.Reader == nil {
		cfg.Reader = RuntimeReader{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Governor{
		cfg:      cfg,
		logger:   logger,
		lightFn:  runtime.GC,
		forcedFn: debug.FreeOSMemory,
		snap:     MemorySnapshot{Ceiling: cfg.MemoryCeiling},
	}
}

// Observe records one processed item and runs whichever pass is due.
func (g *Governor) Observe(ctx context.Context) Pass {
	g.mu.Lock()
	g.snap.Processed++
	n := g.snap.Processed
	lastForced := g.lastForced
	g.mu.Unlock()

	sample := g.read()
	pass := PassNone
	switch {
	case n%int64(g.cfg.HeavyInterval) == 0:
		pass = PassForced
	case g.underPressure(sample) && (lastForced == 0 || n-lastForced >= int64(g.cfg.PressureGap)):
		g.logger.Warn("memory pressure",
			zap.Uint64("used_bytes", sample.Used()),
			zap.Uint64("ceiling_bytes", g.cfg.MemoryCeiling),
		)
		pass = PassForced
	case n%int64(g.cfg.LightInterval) == 0:
		pass = PassLight
	}

	switch pass {
	case PassForced:
		g.forced(ctx, n, sample)
	case PassLight:
		g.lightFn()
		g.mu.Lock()
		g.snap.LightPasses++
		g.mu.Unlock()
		metrics.ObserveGovernorPass(string(PassLight))
	}
	return pass
}

// Snapshot returns the latest counters and memory reading.
func (g *Governor) Snapshot() MemorySnapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snap
}

func (g *Governor) forced(ctx context.Context, processed int64, before MemorySample) {
	g.forcedFn()
	if g.cfg.Recycler != nil {
		if err := g.cfg.Recycler.Recycle(ctx); err != nil {
			g.logger.Warn("browser recycle failed", zap.Error(err))
		}
	}
	after := g.read()
	g.mu.Lock()
	g.snap.ForcedPasses++
	g.lastForced = processed
	g.mu.Unlock()
	metrics.ObserveGovernorPass(string(PassForced))
	g.logger.Info("forced memory reclamation",
		zap.Int64("processed", processed),
		zap.Uint64("before_heap_bytes", before.HeapAlloc),
		zap.Uint64("after_heap_bytes", after.HeapAlloc),
		zap.Uint64("before_rss_bytes", before.RSS),
		zap.Uint64("after_rss_bytes", after.RSS),
	)
}

func (g *Governor) underPressure(s MemorySample) bool {
	if g.cfg.MemoryCeiling == 0 {
		return false
	}
	return float64(s.Used()) > g.cfg.PressureFraction*float64(g.cfg.MemoryCeiling)
}

func (g *Governor) read() MemorySample {
	sample, err := g.cfg.Reader.Read()
	if err != nil {
		g.logger.Debug("memory read failed", zap.Error(err))
	}
	g.mu.Lock()
	g.snap.Last = sample
	g.mu.Unlock()
	metrics.SetMemory("heap_alloc", sample.HeapAlloc)
	if sample.RSS > 0 {
		metrics.SetMemory("rss", sample.RSS)
	}
	return sample
}
