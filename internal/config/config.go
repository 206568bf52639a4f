package config

import (
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

// LogConfig selects the log level and an optional log file.
type LogConfig struct {
	Level string `yaml:"level" default:"info"`
	File  string `yaml:"file"`
}

// ProbeConfig holds the NATS connection used to carry wire records.
type ProbeConfig struct {
	NATSURL string `yaml:"nats_url" default:"nats://127.0.0.1:4222"`
	Subject string `yaml:"subject" default:"flowspectra.records"`
}

// APIConfig holds the HTTP API settings.
type APIConfig struct {
	ListenAddr string `yaml:"listen_addr" default:":8080"`
}

// GobConfig holds the settings for the gob snapshot writer.
type GobConfig struct {
	RootPath string `yaml:"root_path" default:"snapshots"`
}

// TextConfig holds the settings for the text table writer. An empty root path
// writes to standard output.
type TextConfig struct {
	RootPath string `yaml:"root_path"`
}

// ClickHouseConfig holds the connection settings for ClickHouse.
type ClickHouseConfig struct {
	Host     string `yaml:"host" default:"127.0.0.1"`
	Port     int    `yaml:"port" default:"9000"`
	Username string `yaml:"username" default:"default"`
	Password string `yaml:"password"`
	Database string `yaml:"database" default:"default"`
	Table    string `yaml:"table" default:"flow_aggregates"`
}

// SQLiteConfig holds the settings for the SQLite writer.
type SQLiteConfig struct {
	Path  string `yaml:"path" default:"flowspectra.db"`
	Table string `yaml:"table" default:"flow_aggregates"`
}

// WriterDef defines a single snapshot writer.
type WriterDef struct {
	Type             string           `yaml:"type"`
	Enabled          bool             `yaml:"enabled" default:"true"`
	SnapshotInterval string           `yaml:"snapshot_interval" default:"1m"`
	Gob              GobConfig        `yaml:"gob"`
	Text             TextConfig       `yaml:"text"`
	ClickHouse       ClickHouseConfig `yaml:"clickhouse"`
	SQLite           SQLiteConfig     `yaml:"sqlite"`
}

// AggregatorDef defines one aggregator of a chain.
type AggregatorDef struct {
	Name          string   `yaml:"name"`
	Mask          string   `yaml:"mask"`
	HashSize      int      `yaml:"hash_size" default:"4096"`
	Protocols     []string `yaml:"protocols"`
	Label         string   `yaml:"label"`
	Retain        []string `yaml:"retain"`
	ReverseMatch  bool     `yaml:"reverse_match"`
	IdleTimeout   string   `yaml:"idle_timeout"`
	StatusTimeout string   `yaml:"status_timeout"`
	Continue      bool     `yaml:"continue"`
}

// TaskDef defines a single task. Type selects "aggregate" or "bins"; the bin
// settings only apply to the latter.
type TaskDef struct {
	Name     string          `yaml:"name"`
	Type     string          `yaml:"type" default:"aggregate"`
	Chain    []AggregatorDef `yaml:"chain"`
	BinSize  string          `yaml:"bin_size" default:"1m"`
	BinCount int             `yaml:"bin_count" default:"16"`
	MaxBins  int             `yaml:"max_bins"`
	BinHold  string          `yaml:"bin_hold" default:"1m"`
}

// AggregatorConfig holds the engine settings.
type AggregatorConfig struct {
	NumWorkers          int         `yaml:"num_workers" default:"4"`
	SizeOfRecordChannel int         `yaml:"size_of_record_channel" default:"10000"`
	Period              string      `yaml:"period" default:"5m"`
	MaintainInterval    string      `yaml:"maintain_interval" default:"10s"`
	Tasks               []TaskDef   `yaml:"tasks"`
	Writers             []WriterDef `yaml:"writers"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Log        LogConfig        `yaml:"log"`
	Probe      ProbeConfig      `yaml:"probe"`
	API        APIConfig        `yaml:"api"`
	Aggregator AggregatorConfig `yaml:"aggregator"`
}

// List entries are created by the YAML decoder, so they take their defaults
// before decoding; explicit false and zero values then survive.
func (w *WriterDef) UnmarshalYAML(value *yaml.Node) error {
	if err := defaults.Set(w); err != nil {
		return err
	}
	type plain WriterDef
	return value.Decode((*plain)(w))
}

func (a *AggregatorDef) UnmarshalYAML(value *yaml.Node) error {
	if err := defaults.Set(a); err != nil {
		return err
	}
	type plain AggregatorDef
	return value.Decode((*plain)(a))
}

func (t *TaskDef) UnmarshalYAML(value *yaml.Node) error {
	if err := defaults.Set(t); err != nil {
		return err
	}
	type plain TaskDef
	return value.Decode((*plain)(t))
}

// LoadConfig reads the configuration from a YAML file and returns a Config struct.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, fills defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := defaults.Set(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply config defaults: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	a := &c.Aggregator
	if a.NumWorkers <= 0 {
		return fmt.Errorf("num_workers must be positive, got %d", a.NumWorkers)
	}
	for _, d := range []struct{ name, value string }{
		{"period", a.Period},
		{"maintain_interval", a.MaintainInterval},
	} {
		if _, err := positiveDuration(d.value); err != nil {
			return fmt.Errorf("aggregator %s: %w", d.name, err)
		}
	}

	names := make(map[string]bool)
	for _, t := range a.Tasks {
		if t.Name == "" {
			return fmt.Errorf("task without a name")
		}
		if names[t.Name] {
			return fmt.Errorf("duplicate task name '%s'", t.Name)
		}
		names[t.Name] = true
		if len(t.Chain) == 0 {
			return fmt.Errorf("task '%s' has no aggregators", t.Name)
		}
		if t.Type == "bins" {
			if _, err := positiveDuration(t.BinSize); err != nil {
				return fmt.Errorf("task '%s' bin_size: %w", t.Name, err)
			}
		}
	}
	return nil
}

func positiveDuration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be a positive duration, got %s", s)
	}
	return d, nil
}

// Duration parses an optional duration; an empty string is zero.
func Duration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}
