package queue

import (
	"time"

	"github.com/knadh/koanf"
	"github.com/pkg/errors"
)

// Driver names recognized by the configuration.
const (
	DriverSync     = "sync"
	DriverInMemory = "memory"
	DriverFile     = "file"
	DriverRedis    = "redis"
)

// DriverConfig is the per-driver configuration block. It is immutable once the
// driver has been constructed from it.
type DriverConfig struct {
	// Driver selects the implementation: sync, memory, file or redis.
	Driver string `json:"driver" yaml:"driver" koanf:"driver"`
	// Path is the storage directory for the file driver.
	Path string `json:"path" yaml:"path" koanf:"path"`
	// Host, Port, Password and QueueName are the redis connection parameters.
	Host      string `json:"host" yaml:"host" koanf:"host"`
	Port      int    `json:"port" yaml:"port" koanf:"port"`
	Password  string `json:"password" yaml:"password" koanf:"password"`
	QueueName string `json:"queue_name" yaml:"queue_name" koanf:"queue_name"`
	// TrackMetrics enables the per-driver throughput/latency counters.
	TrackMetrics bool `json:"track_metrics" yaml:"track_metrics" koanf:"track_metrics"`
	// UseDLQ routes exhausted-retry jobs into the dead letter queue instead
	// of dropping them.
	UseDLQ bool `json:"use_dlq" yaml:"use_dlq" koanf:"use_dlq"`
	// MaxRetries is the retry ceiling applied when a job doesn't carry its
	// own. Zero falls back to DefaultMaxAttempts.
	MaxRetries int `json:"max_retries" yaml:"max_retries" koanf:"max_retries"`

	// Worker auto-boot behavior.
	AutoStart       bool          `json:"auto_start" yaml:"auto_start" koanf:"auto_start"`
	RunInBackground bool          `json:"run_in_background" yaml:"run_in_background" koanf:"run_in_background"`
	MaxJobs         int64         `json:"max_jobs" yaml:"max_jobs" koanf:"max_jobs"`
	Delay           time.Duration `json:"delay" yaml:"delay" koanf:"delay"`
	Timeout         time.Duration `json:"timeout" yaml:"timeout" koanf:"timeout"`
}

// Config is the queue subsystem configuration: one DriverConfig per name plus
// the name of the active default.
type Config struct {
	// Default names the driver Dispatch uses when no driver is named.
	Default string `json:"default" yaml:"default" koanf:"default"`
	// Drivers holds the configuration blocks keyed by driver name.
	Drivers map[string]DriverConfig `json:"drivers" yaml:"drivers" koanf:"drivers"`
}

// DefaultConfig returns a single in-memory driver setup, the zero-friction
// development configuration.
func DefaultConfig() Config {
	return Config{
		Default: "default",
		Drivers: map[string]DriverConfig{
			"default": {
				Driver:     DriverInMemory,
				UseDLQ:     true,
				MaxRetries: DefaultMaxAttempts,
			},
		},
	}
}

// LoadConfig reads the "queue" subtree from a koanf instance:
//
//	queue:
//	  default: default
//	  drivers:
//	    default:
//	      driver: redis
//	      host: 127.0.0.1
//	      port: 6379
//	      use_dlq: true
func LoadConfig(k *koanf.Koanf) (Config, error) {
	cfg := DefaultConfig()
	if !k.Exists("queue") {
		return cfg, nil
	}
	cfg.Drivers = nil
	if err := k.Unmarshal("queue", &cfg); err != nil {
		return Config{}, errors.Wrap(err, "unmarshal queue configuration")
	}
	if len(cfg.Drivers) == 0 {
		return DefaultConfig(), nil
	}
	if cfg.Default == "" {
		cfg.Default = "default"
	}
	if _, ok := cfg.Drivers[cfg.Default]; !ok {
		return Config{}, errors.Wrapf(ErrDriverNotFound, "default driver %q has no configuration", cfg.Default)
	}
	return cfg, nil
}
