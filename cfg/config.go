package cfg

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/go-sql-driver/mysql"
	"github.com/gobwas/glob"
	"github.com/rs/zerolog/log"
)

// DriverType selects the database dialect
type DriverType string

const (
	DriverMySQL  DriverType = "mysql"
	DriverSQLite DriverType = "sqlite3"
)

// DatabaseConfiguration describes how to reach the target database
type DatabaseConfiguration struct {
	Driver   DriverType        `toml:"driver"`
	DSN      string            `toml:"dsn"` // Overrides every other field when set
	Host     string            `toml:"host"`
	Port     int               `toml:"port"`
	User     string            `toml:"user"`
	Password string            `toml:"password"`
	Name     string            `toml:"name"`
	Params   map[string]string `toml:"params"`
}

// PairConfiguration is one find/replace instruction
type PairConfiguration struct {
	Find    string `toml:"find"`
	Replace string `toml:"replace"`
}

// ReplaceConfiguration controls the replace engine
type ReplaceConfiguration struct {
	Pairs           []PairConfiguration `toml:"pairs"`
	CaseInsensitive bool                `toml:"case_insensitive"`
	VerifyRoundTrip bool                `toml:"verify_round_trip"`
	OpaqueClasses   []string            `toml:"opaque_classes"` // Glob patterns, objects kept byte-for-byte
	MaxDepth        int                 `toml:"max_depth"`
}

// ScanConfiguration controls table selection and processing
type ScanConfiguration struct {
	IncludeTables           []string `toml:"include_tables"`
	ExcludeTables           []string `toml:"exclude_tables"`
	SerializedTableSuffixes []string `toml:"serialized_table_suffixes"`
	SerializedTables        []string `toml:"serialized_tables"` // Glob patterns
	ExcludedTypes           []string `toml:"excluded_types"`
	BatchSize               int      `toml:"batch_size"`
	CacheSize               int      `toml:"cache_size"` // 0 disables the rewrite cache
	DryRun                  bool     `toml:"dry_run"`
	ContinueOnError         bool     `toml:"continue_on_error"`
	ProgressIntervalSeconds int      `toml:"progress_interval_seconds"` // 0 disables progress logs
}

// JournalConfiguration controls the change journal
type JournalConfiguration struct {
	Enabled          bool   `toml:"enabled"`
	Path             string `toml:"path"`
	CompressionLevel int    `toml:"compression_level"` // 1 (fastest) to 4 (best)
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled  bool   `toml:"enabled"`
	Textfile string `toml:"textfile"` // Written once the run finishes
}

// Configuration is the main configuration structure
type Configuration struct {
	Database   DatabaseConfiguration   `toml:"database"`
	Replace    ReplaceConfiguration    `toml:"replace"`
	Scan       ScanConfiguration       `toml:"scan"`
	Journal    JournalConfiguration    `toml:"journal"`
	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
}

// Flags holds command line overrides. Zero values leave the file config alone.
type Flags struct {
	ConfigPath      string
	DSN             string
	Driver          string
	Find            string
	Replace         string
	DryRun          bool
	CaseInsensitive bool
	Verbose         bool
	JournalPath     string
}

// BindFlags registers the override flags on fs
func BindFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}
	fs.StringVar(&f.ConfigPath, "config", "dbreplace.toml", "Path to configuration file")
	fs.StringVar(&f.DSN, "dsn", "", "Database DSN (overrides config)")
	fs.StringVar(&f.Driver, "driver", "", "Database driver: mysql|sqlite3 (overrides config)")
	fs.StringVar(&f.Find, "find", "", "Text to find; replaces the configured pairs together with -replace")
	fs.StringVar(&f.Replace, "replace", "", "Replacement text for -find")
	fs.BoolVar(&f.DryRun, "dry-run", false, "Compute and journal changes without writing them")
	fs.BoolVar(&f.CaseInsensitive, "case-insensitive", false, "Match find text ignoring ASCII case")
	fs.BoolVar(&f.Verbose, "verbose", false, "Enable debug logging")
	fs.StringVar(&f.JournalPath, "journal", "", "Write a change journal to this path")
	return f
}

// Default configuration
var Config = Default()

// Default returns a fresh configuration populated with defaults
func Default() *Configuration {
	return &Configuration{
		Database: DatabaseConfiguration{
			Driver: DriverMySQL,
			Host:   "127.0.0.1",
			Port:   3306,
			User:   "root",
			Params: map[string]string{},
		},

		Replace: ReplaceConfiguration{
			VerifyRoundTrip: true,
			MaxDepth:        4096,
		},

		Scan: ScanConfiguration{
			SerializedTableSuffixes: []string{"options"},
			ExcludedTypes:           []string{"timestamp", "datetime"},
			BatchSize:               500,
			CacheSize:               4096,
			ContinueOnError:         true,
			ProgressIntervalSeconds: 10,
		},

		Journal: JournalConfiguration{
			Enabled:          false,
			Path:             "dbreplace-journal.zst",
			CompressionLevel: 2,
		},

		Logging: LoggingConfiguration{
			Verbose: false,
			Format:  "console",
		},

		Prometheus: PrometheusConfiguration{
			Enabled: false,
		},
	}
}

// Load loads configuration from file and applies CLI overrides
func Load(flags *Flags) error {
	if flags == nil {
		flags = &Flags{}
	}

	// Load from file if it exists
	if flags.ConfigPath != "" {
		if _, err := os.Stat(flags.ConfigPath); err == nil {
			log.Info().Str("path", flags.ConfigPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(flags.ConfigPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", flags.ConfigPath).Msg("Config file not found, using defaults")
		}
	}

	// Apply CLI overrides
	if flags.DSN != "" {
		Config.Database.DSN = flags.DSN
	}
	if flags.Driver != "" {
		Config.Database.Driver = DriverType(flags.Driver)
	}
	if flags.Find != "" {
		Config.Replace.Pairs = []PairConfiguration{{Find: flags.Find, Replace: flags.Replace}}
	}
	if flags.DryRun {
		Config.Scan.DryRun = true
	}
	if flags.CaseInsensitive {
		Config.Replace.CaseInsensitive = true
	}
	if flags.Verbose {
		Config.Logging.Verbose = true
	}
	if flags.JournalPath != "" {
		Config.Journal.Enabled = true
		Config.Journal.Path = flags.JournalPath
	}

	return nil
}

// Validate checks configuration for errors
func Validate() error {
	switch Config.Database.Driver {
	case DriverMySQL:
		if Config.Database.DSN == "" && Config.Database.Name == "" {
			return fmt.Errorf("database name is required for mysql")
		}
		if Config.Database.DSN == "" && (Config.Database.Port < 1 || Config.Database.Port > 65535) {
			return fmt.Errorf("invalid MySQL port: %d", Config.Database.Port)
		}
	case DriverSQLite:
		if Config.Database.DSN == "" && Config.Database.Name == "" {
			return fmt.Errorf("database file is required for sqlite3")
		}
	default:
		return fmt.Errorf("unsupported driver: %s", Config.Database.Driver)
	}

	if len(Config.Replace.Pairs) == 0 {
		return fmt.Errorf("at least one replace pair is required")
	}
	for i, p := range Config.Replace.Pairs {
		if p.Find == "" {
			return fmt.Errorf("replace pair %d has an empty find string", i)
		}
	}

	if Config.Replace.MaxDepth < 1 {
		return fmt.Errorf("max depth must be >= 1")
	}

	if Config.Scan.BatchSize < 1 {
		return fmt.Errorf("batch size must be >= 1")
	}

	if Config.Scan.CacheSize < 0 {
		return fmt.Errorf("cache size must be >= 0")
	}

	if Config.Scan.ProgressIntervalSeconds < 0 {
		return fmt.Errorf("progress interval must be >= 0")
	}

	// Validate glob patterns up front so a typo fails before any table is touched
	patterns := [][]string{
		Config.Scan.IncludeTables,
		Config.Scan.ExcludeTables,
		Config.Scan.SerializedTables,
		Config.Replace.OpaqueClasses,
	}
	for _, list := range patterns {
		for _, p := range list {
			if _, err := glob.Compile(p); err != nil {
				return fmt.Errorf("invalid pattern %q: %w", p, err)
			}
		}
	}

	if Config.Journal.Enabled {
		if Config.Journal.Path == "" {
			return fmt.Errorf("journal path is required when the journal is enabled")
		}
		if Config.Journal.CompressionLevel < 1 || Config.Journal.CompressionLevel > 4 {
			return fmt.Errorf("journal compression level must be between 1 and 4")
		}
	}

	if Config.Logging.Format != "console" && Config.Logging.Format != "json" {
		return fmt.Errorf("invalid logging format: %s", Config.Logging.Format)
	}

	return nil
}

// DataSourceName returns the DSN handed to database/sql
func DataSourceName() string {
	db := Config.Database
	if db.DSN != "" {
		return db.DSN
	}

	if db.Driver == DriverSQLite {
		return db.Name
	}

	mc := mysql.NewConfig()
	mc.User = db.User
	mc.Passwd = db.Password
	mc.Net = "tcp"
	mc.Addr = db.Host + ":" + strconv.Itoa(db.Port)
	mc.DBName = db.Name
	for k, v := range db.Params {
		if mc.Params == nil {
			mc.Params = map[string]string{}
		}
		mc.Params[k] = v
	}
	return mc.FormatDSN()
}

// SchemaName returns the schema the catalog queries are scoped to
func SchemaName() string {
	if Config.Database.Name != "" || Config.Database.Driver != DriverMySQL {
		return Config.Database.Name
	}
	if mc, err := mysql.ParseDSN(Config.Database.DSN); err == nil {
		return mc.DBName
	}
	return ""
}

// RedactedDSN is DataSourceName with the password masked, for logs
func RedactedDSN() string {
	dsn := DataSourceName()
	if Config.Database.Driver != DriverMySQL {
		return dsn
	}
	mc, err := mysql.ParseDSN(dsn)
	if err != nil || mc.Passwd == "" {
		return dsn
	}
	mc.Passwd = strings.Repeat("*", 4)
	return mc.FormatDSN()
}

// HostFingerprint identifies the machine a run happened on without exposing
// the raw machine ID
func HostFingerprint() uint64 {
	id, err := machineid.ProtectedID("dbreplace")
	if err != nil {
		log.Debug().Err(err).Msg("Machine ID unavailable, falling back to hostname")
		id, _ = os.Hostname()
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	return h.Sum64()
}
