package telemetry

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Snapshot is a point-in-time view of run progress
type Snapshot struct {
	Table         string
	TablesDone    int64
	TablesTotal   int64
	RowsScanned   int64
	RowsChanged   int64
	CellsChanged  int64
	TablesFailed  int64
	TablesSkipped int64
}

// StatsProvider interface for components that report progress
type StatsProvider interface {
	Snapshot() Snapshot
}

// ProgressCollector periodically logs progress and updates telemetry gauges
type ProgressCollector struct {
	provider StatsProvider
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewProgressCollector creates a new progress collector
func NewProgressCollector(provider StatsProvider, interval time.Duration) *ProgressCollector {
	return &ProgressCollector{
		provider: provider,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic collection. A non-positive interval disables it.
func (pc *ProgressCollector) Start() {
	if pc.interval <= 0 || pc.provider == nil {
		return
	}
	pc.wg.Add(1)
	go pc.collectLoop()
}

// Stop stops the collector and publishes a final snapshot
func (pc *ProgressCollector) Stop() {
	pc.stopOnce.Do(func() {
		close(pc.stopCh)
		pc.wg.Wait()
		if pc.provider != nil {
			pc.publish(pc.provider.Snapshot())
		}
	})
}

func (pc *ProgressCollector) collectLoop() {
	defer pc.wg.Done()

	ticker := time.NewTicker(pc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s := pc.provider.Snapshot()
			pc.publish(s)
			log.Info().
				Str("table", s.Table).
				Int64("tables_done", s.TablesDone).
				Int64("tables_total", s.TablesTotal).
				Int64("rows_scanned", s.RowsScanned).
				Int64("rows_changed", s.RowsChanged).
				Msg("Progress")
		case <-pc.stopCh:
			return
		}
	}
}

func (pc *ProgressCollector) publish(s Snapshot) {
	ProgressTables.Set(float64(s.TablesDone))
	ProgressRows.Set(float64(s.RowsScanned))
}
