package telemetry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/maxpert/dbreplace/cfg"
)

type fixedProvider struct {
	snap Snapshot
}

func (f fixedProvider) Snapshot() Snapshot { return f.snap }

func enableMetrics(t *testing.T) {
	t.Helper()
	saved := cfg.Config
	cfg.Config = cfg.Default()
	cfg.Config.Prometheus.Enabled = true
	InitializeTelemetry()

	t.Cleanup(func() {
		cfg.Config = saved
		Reset()
	})
}

func TestDisabledMetricsAreNoops(t *testing.T) {
	Reset()
	if Enabled() {
		t.Fatal("registry should be nil after Reset")
	}

	RowsScannedTotal.Add(5)
	TablesTotal.With("row", "done").Inc()

	got, err := Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Gather = %v, want empty", got)
	}
	if err := WriteTextfile(filepath.Join(t.TempDir(), "m.prom")); err != nil {
		t.Errorf("WriteTextfile should be a no-op: %v", err)
	}
}

func TestMetricsRecorded(t *testing.T) {
	enableMetrics(t)

	RowsScannedTotal.Add(5)
	TablesTotal.With("row", "done").Inc()
	TablesTotal.With("bulk", "failed").Inc()

	got, err := Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	if got["dbreplace_rows_scanned_total"] != 5 {
		t.Errorf("rows_scanned_total = %v, want 5", got["dbreplace_rows_scanned_total"])
	}
	if got["dbreplace_tables_total"] != 2 {
		t.Errorf("tables_total = %v, want 2", got["dbreplace_tables_total"])
	}
}

func TestProgressCollector_FinalSnapshot(t *testing.T) {
	enableMetrics(t)

	pc := NewProgressCollector(fixedProvider{Snapshot{TablesDone: 3, RowsScanned: 120}}, 10*time.Millisecond)
	pc.Start()
	time.Sleep(30 * time.Millisecond)
	pc.Stop()
	pc.Stop()

	got, err := Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	if got["dbreplace_progress_tables"] != 3 {
		t.Errorf("progress_tables = %v, want 3", got["dbreplace_progress_tables"])
	}
	if got["dbreplace_progress_rows"] != 120 {
		t.Errorf("progress_rows = %v, want 120", got["dbreplace_progress_rows"])
	}
}

func TestProgressCollector_DisabledInterval(t *testing.T) {
	pc := NewProgressCollector(fixedProvider{}, 0)
	pc.Start()
	pc.Stop()
}

func TestWriteTextfile(t *testing.T) {
	saved := cfg.Config
	cfg.Config = cfg.Default()
	cfg.Config.Prometheus.Enabled = true
	cfg.Config.Database.Driver = cfg.DriverSQLite
	cfg.Config.Scan.DryRun = true
	InitializeTelemetry()
	t.Cleanup(func() {
		cfg.Config = saved
		Reset()
	})

	CellsChangedTotal.Add(7)

	path := filepath.Join(t.TempDir(), "dbreplace.prom")
	if err := WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	want := `dbreplace_cells_changed_total{driver="sqlite3",dry_run="true"} 7`
	if !strings.Contains(string(data), want) {
		t.Errorf("textfile missing %s:\n%s", want, data)
	}
}
