// Package config loads viewhub's runtime configuration with the teacher's
// layering: code defaults, then YAML overrides, then environment variable
// overrides, then validation.
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/coachpo/viewhub/internal/verrs"
)

// Telemetry configures the OTel metrics exporter. An empty OTLPEndpoint
// installs a no-op provider.
type Telemetry struct {
	OTLPEndpoint string `yaml:"otlpEndpoint"`
	ServiceName  string `yaml:"serviceName"`
	OTLPInsecure bool   `yaml:"otlpInsecure"`
}

// StatsHistory configures optional Postgres persistence of stats
// snapshots. An empty DSN disables persistence entirely.
type StatsHistory struct {
	DSN           string `yaml:"dsn"`
	MigrationsDir string `yaml:"migrationsDir"`
}

// Options is the full set of engine configuration settable programmatically
// or loaded from YAML + environment variables.
type Options struct {
	RefreshQueueSize          int           `yaml:"refreshQueueSize"`
	RefreshInterval           time.Duration `yaml:"refreshInterval"`
	WorkerThreads             int           `yaml:"workerThreads"`
	StatsLogInterval          time.Duration `yaml:"statsLogInterval"`
	InitialRefreshConcurrency int           `yaml:"initialRefreshConcurrency"`

	Telemetry    Telemetry    `yaml:"telemetry"`
	StatsHistory StatsHistory `yaml:"statsHistory"`
}

// Default returns the spec-mandated defaults: refresh-queue-size 1000,
// refresh-interval 1000ms, worker-threads 8, stats logging disabled.
func Default() Options {
	return Options{
		RefreshQueueSize:          1000,
		RefreshInterval:           time.Second,
		WorkerThreads:             8,
		StatsLogInterval:          0,
		InitialRefreshConcurrency: 32,
	}
}

// Load builds Options with precedence: defaults -> YAML (if path is
// non-empty and exists) -> environment variables -> validation.
func Load(path string) (Options, error) {
	opts := Default()

	if path = strings.TrimSpace(path); path != "" {
		if err := opts.mergeYAMLFile(path); err != nil && !os.IsNotExist(err) {
			return Options{}, verrs.New("config/load", verrs.CodeInvalid, verrs.WithCause(err))
		}
	}

	opts.mergeEnv()

	if err := opts.Validate(); err != nil {
		return Options{}, err
	}
	return opts, nil
}

type optionsYAML struct {
	RefreshQueueSize          int          `yaml:"refreshQueueSize"`
	RefreshIntervalMS         int          `yaml:"refreshIntervalMs"`
	WorkerThreads             int          `yaml:"workerThreads"`
	StatsLogIntervalMS        int          `yaml:"statsLogIntervalMs"`
	InitialRefreshConcurrency int          `yaml:"initialRefreshConcurrency"`
	Telemetry                 Telemetry    `yaml:"telemetry"`
	StatsHistory              StatsHistory `yaml:"statsHistory"`
}

func (o *Options) mergeYAMLFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	raw, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	var y optionsYAML
	if err := yaml.Unmarshal(raw, &y); err != nil {
		return fmt.Errorf("unmarshal config %s: %w", path, err)
	}

	if y.RefreshQueueSize > 0 {
		o.RefreshQueueSize = y.RefreshQueueSize
	}
	if y.RefreshIntervalMS > 0 {
		o.RefreshInterval = time.Duration(y.RefreshIntervalMS) * time.Millisecond
	}
	if y.WorkerThreads > 0 {
		o.WorkerThreads = y.WorkerThreads
	}
	if y.StatsLogIntervalMS > 0 {
		o.StatsLogInterval = time.Duration(y.StatsLogIntervalMS) * time.Millisecond
	}
	if y.InitialRefreshConcurrency > 0 {
		o.InitialRefreshConcurrency = y.InitialRefreshConcurrency
	}
	if y.Telemetry.OTLPEndpoint != "" {
		o.Telemetry = y.Telemetry
	}
	if y.StatsHistory.DSN != "" {
		o.StatsHistory = y.StatsHistory
	}
	return nil
}

func (o *Options) mergeEnv() {
	if v := os.Getenv("VIEWHUB_REFRESH_QUEUE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			o.RefreshQueueSize = n
		}
	}
	if v := os.Getenv("VIEWHUB_REFRESH_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			o.RefreshInterval = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("VIEWHUB_WORKER_THREADS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			o.WorkerThreads = n
		}
	}
	if v := os.Getenv("VIEWHUB_STATS_LOG_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			o.StatsLogInterval = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("VIEWHUB_OTLP_ENDPOINT"); v != "" {
		o.Telemetry.OTLPEndpoint = v
	}
	if v := os.Getenv("VIEWHUB_STATS_HISTORY_DSN"); v != "" {
		o.StatsHistory.DSN = v
	}
}

// Validate checks that every option is within a sane range.
func (o Options) Validate() error {
	if o.RefreshQueueSize <= 0 {
		return verrs.New("config/validate", verrs.CodeInvalid, verrs.WithMessage("refreshQueueSize must be >0"))
	}
	if o.RefreshInterval <= 0 {
		return verrs.New("config/validate", verrs.CodeInvalid, verrs.WithMessage("refreshInterval must be >0"))
	}
	if o.WorkerThreads <= 0 {
		return verrs.New("config/validate", verrs.CodeInvalid, verrs.WithMessage("workerThreads must be >0"))
	}
	if o.InitialRefreshConcurrency <= 0 {
		return verrs.New("config/validate", verrs.CodeInvalid, verrs.WithMessage("initialRefreshConcurrency must be >0"))
	}
	if o.StatsLogInterval < 0 {
		return verrs.New("config/validate", verrs.CodeInvalid, verrs.WithMessage("statsLogInterval must be >=0"))
	}
	return nil
}
