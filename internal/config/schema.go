package config

// Config holds ragsys configuration.
// Stored at: {home}/config.yaml
type Config struct {
	Server    ServerCfg    `mapstructure:"server" yaml:"server"`
	Pool      PoolCfg      `mapstructure:"pool" yaml:"pool"`
	Retry     RetryCfg     `mapstructure:"retry" yaml:"retry"`
	Progress  ProgressCfg  `mapstructure:"progress" yaml:"progress"`
	Store     StoreCfg     `mapstructure:"store" yaml:"store"`
	Documents DocumentsCfg `mapstructure:"documents" yaml:"documents"`
	Pipeline  PipelineCfg  `mapstructure:"pipeline" yaml:"pipeline"`
	Log       LogCfg       `mapstructure:"log" yaml:"log"`
}

// ServerCfg configures the HTTP API listener.
type ServerCfg struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
}

// PoolCfg bounds task concurrency.
type PoolCfg struct {
	// Workers is the concurrency ceiling. Zero derives from GOMAXPROCS.
	Workers int `mapstructure:"workers" yaml:"workers"`
	// TaskTimeoutSeconds bounds each document's processing run. Zero
	// disables the per-task timeout.
	TaskTimeoutSeconds int `mapstructure:"task_timeout_seconds" yaml:"task_timeout_seconds"`
}

// RetryCfg configures the error boundary's retry policy.
type RetryCfg struct {
	Attempts   int `mapstructure:"attempts" yaml:"attempts"`
	DelayMS    int `mapstructure:"delay_ms" yaml:"delay_ms"`
	MaxDelayMS int `mapstructure:"max_delay_ms" yaml:"max_delay_ms"`
}

// ProgressCfg configures the event broadcaster.
type ProgressCfg struct {
	// Buffer is the per-subscriber channel depth.
	Buffer int `mapstructure:"buffer" yaml:"buffer"`
}

// StoreCfg configures batch history persistence.
type StoreCfg struct {
	// Path is the data directory for the SQLite database. Empty means
	// {home}/data.
	Path            string `mapstructure:"path" yaml:"path"`
	FlushIntervalMS int    `mapstructure:"flush_interval_ms" yaml:"flush_interval_ms"`
	BatchSize       int    `mapstructure:"batch_size" yaml:"batch_size"`
}

// DocumentsCfg configures document resolution.
type DocumentsCfg struct {
	// Root is the directory document identifiers resolve under. Empty
	// means {home}/documents.
	Root string `mapstructure:"root" yaml:"root"`
}

// PipelineCfg configures the remote document-processing service.
type PipelineCfg struct {
	// URL of the pipeline service. Empty selects the built-in local
	// processor, which is only useful for smoke testing.
	URL            string `mapstructure:"url" yaml:"url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
}

// LogCfg configures logging.
type LogCfg struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level" yaml:"level"`
	// File, when set, receives a copy of the log stream in addition to
	// stderr.
	File string `mapstructure:"file" yaml:"file"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerCfg{
			Host: "127.0.0.1",
			Port: 8280,
		},
		Pool: PoolCfg{
			Workers:            8,
			TaskTimeoutSeconds: 600,
		},
		Retry: RetryCfg{
			Attempts:   3,
			DelayMS:    200,
			MaxDelayMS: 5000,
		},
		Progress: ProgressCfg{
			Buffer: 64,
		},
		Store: StoreCfg{
			FlushIntervalMS: 2000,
			BatchSize:       32,
		},
		Pipeline: PipelineCfg{
			TimeoutSeconds: 600,
		},
		Log: LogCfg{
			Level: "info",
		},
	}
}
