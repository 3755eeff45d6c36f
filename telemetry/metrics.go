package telemetry

// Histogram bucket definitions for different latency profiles
var (
	// StatementBuckets for single SELECT/UPDATE round trips
	StatementBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

	// TableBuckets for whole-table passes
	TableBuckets = []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 900}
)

// Table Metrics
var (
	// TablesTotal counts tables by mode (row, bulk) and result (done, skipped, failed)
	TablesTotal CounterVec = noopCounterVec{}

	// TableDurationSeconds measures a full table pass by mode
	TableDurationSeconds HistogramVec = noopHistogramVec{}
)

// Row Metrics
var (
	// RowsScannedTotal counts rows read in row mode
	RowsScannedTotal Counter = NoopStat{}

	// RowsChangedTotal counts rows updated (or that would be, in dry run) by mode
	RowsChangedTotal CounterVec = noopCounterVec{}

	// CellsChangedTotal counts individual column values rewritten
	CellsChangedTotal Counter = NoopStat{}

	// StatementDurationSeconds measures statements by type (select, update, bulk, count)
	StatementDurationSeconds HistogramVec = noopHistogramVec{}
)

// Engine Metrics
var (
	// DecodeFallbacksTotal counts values that looked serialized but were replaced literally
	DecodeFallbacksTotal Counter = NoopStat{}

	// DegradedSubtreesTotal counts subtrees left unchanged after a traversal error
	DegradedSubtreesTotal Counter = NoopStat{}

	// RewriteErrorsTotal counts values left unchanged because the engine failed
	RewriteErrorsTotal CounterVec = noopCounterVec{}

	// CacheLookupsTotal counts rewrite cache lookups by result (hit, miss)
	CacheLookupsTotal CounterVec = noopCounterVec{}
)

// Progress Metrics
var (
	// ProgressTables tracks tables finished so far
	ProgressTables Gauge = NoopStat{}

	// ProgressRows tracks rows scanned so far
	ProgressRows Gauge = NoopStat{}

	// JournalEntriesTotal counts change records written to the journal
	JournalEntriesTotal Counter = NoopStat{}
)

// InitializeMetrics binds every metric. Called after InitializeTelemetry.
func InitializeMetrics() {
	TablesTotal = NewCounterVec(
		"tables_total",
		"Tables processed by mode and result",
		[]string{"mode", "result"},
	)
	TableDurationSeconds = NewHistogramVec(
		"table_duration_seconds",
		"Table pass duration in seconds",
		[]string{"mode"},
		TableBuckets,
	)

	RowsScannedTotal = NewCounter(
		"rows_scanned_total",
		"Rows read in row mode",
	)
	RowsChangedTotal = NewCounterVec(
		"rows_changed_total",
		"Rows changed by mode",
		[]string{"mode"},
	)
	CellsChangedTotal = NewCounter(
		"cells_changed_total",
		"Column values rewritten",
	)
	StatementDurationSeconds = NewHistogramVec(
		"statement_duration_seconds",
		"Statement duration in seconds",
		[]string{"type"},
		StatementBuckets,
	)

	DecodeFallbacksTotal = NewCounter(
		"decode_fallbacks_total",
		"Serialized-looking values replaced as plain text",
	)
	DegradedSubtreesTotal = NewCounter(
		"degraded_subtrees_total",
		"Subtrees left unchanged after a traversal error",
	)
	RewriteErrorsTotal = NewCounterVec(
		"rewrite_errors_total",
		"Values left unchanged because the rewrite failed",
		[]string{"kind"},
	)
	CacheLookupsTotal = NewCounterVec(
		"cache_lookups_total",
		"Rewrite cache lookups by result",
		[]string{"result"},
	)

	ProgressTables = NewGauge(
		"progress_tables",
		"Tables finished in the current run",
	)
	ProgressRows = NewGauge(
		"progress_rows",
		"Rows scanned in the current run",
	)
	JournalEntriesTotal = NewCounter(
		"journal_entries_total",
		"Change records written to the journal",
	)
}
