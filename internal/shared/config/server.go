package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig contains all configuration for the hub service: the REST
// API, the per-kind dispatchers, the job store, and the device registry.
type ServerConfig struct {
	REST       RESTConfig       `mapstructure:"rest"`
	DataDir    string           `mapstructure:"data_dir"`
	Store      StoreConfig      `mapstructure:"store"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	Devices    DevicesConfig    `mapstructure:"devices"`
	Prober     ProberConfig     `mapstructure:"prober"`
	Remote     RemoteConfig     `mapstructure:"remote"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Extract    ExtractConfig    `mapstructure:"extract"`
	Convert    ConvertConfig    `mapstructure:"convert"`
	Vision     VisionConfig     `mapstructure:"vision"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// RESTConfig contains REST API server configuration. Write timeout must
// cover the longest poll wait plus response encoding.
type RESTConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	MaxPollWait  time.Duration `mapstructure:"max_poll_wait"`
}

// StoreConfig selects and tunes the job store backend.
type StoreConfig struct {
	Backend    string        `mapstructure:"backend"` // "memory" or "sqlite"
	SQLitePath string        `mapstructure:"sqlite_path"`
	JobTTL     time.Duration `mapstructure:"job_ttl"`
	GCInterval time.Duration `mapstructure:"gc_interval"`
}

// QueueConfig tunes the per-kind job queues.
type QueueConfig struct {
	Capacity int `mapstructure:"capacity"`
}

// DispatcherConfig tunes the dispatch loops.
type DispatcherConfig struct {
	WorkersPerKind int           `mapstructure:"workers_per_kind"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BackoffBase    time.Duration `mapstructure:"backoff_base"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
}

// DevicesConfig declares the compute devices the dispatcher may use.
type DevicesConfig struct {
	AutoDetect bool                 `mapstructure:"auto_detect"`
	LocalGPUs  []int                `mapstructure:"local_gpus"`
	Remote     []RemoteDeviceConfig `mapstructure:"remote"`
}

// RemoteDeviceConfig declares one remote worker node.
type RemoteDeviceConfig struct {
	ID           string   `mapstructure:"id"`
	Addr         string   `mapstructure:"addr"`
	Capabilities []string `mapstructure:"capabilities"`
}

// ProberConfig tunes the remote device health prober.
type ProberConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// RemoteConfig tunes the remote worker protocol client.
type RemoteConfig struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
	RetryBase  time.Duration `mapstructure:"retry_base"`
}

// LoadServer loads the hub configuration from the given path. If
// configPath is empty, it looks for server.yaml in the config/ directory.
// Environment variables with MINERUVISION_SERVER_ prefix override config
// file values.
func LoadServer(configPath string) (*ServerConfig, error) {
	v := viper.New()

	v.SetDefault("rest.addr", ":8080")
	v.SetDefault("rest.read_timeout", 5*time.Minute)
	v.SetDefault("rest.write_timeout", 5*time.Minute)
	v.SetDefault("rest.idle_timeout", 2*time.Minute)
	v.SetDefault("rest.max_poll_wait", 60*time.Second)
	v.SetDefault("data_dir", "./data")
	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.sqlite_path", "./data/jobs.db")
	v.SetDefault("store.job_ttl", 24*time.Hour)
	v.SetDefault("store.gc_interval", 10*time.Minute)
	v.SetDefault("queue.capacity", 256)
	v.SetDefault("dispatcher.workers_per_kind", 2)
	v.SetDefault("dispatcher.max_attempts", 5)
	v.SetDefault("dispatcher.backoff_base", 500*time.Millisecond)
	v.SetDefault("dispatcher.backoff_max", 30*time.Second)
	v.SetDefault("devices.auto_detect", true)
	v.SetDefault("prober.interval", 30*time.Second)
	v.SetDefault("prober.timeout", 5*time.Second)
	v.SetDefault("remote.timeout", time.Hour)
	v.SetDefault("remote.max_retries", 3)
	v.SetDefault("remote.retry_base", time.Second)
	v.SetDefault("storage.endpoint", "http://localhost:9000")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.bucket", "mineru")
	v.SetDefault("storage.use_ssl", false)
	v.SetDefault("storage.presign_expiry", 7*24*time.Hour)
	v.SetDefault("storage.max_retries", 3)
	setProcessingDefaults(v)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("server")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("MINERUVISION_SERVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// setProcessingDefaults registers defaults for the sections shared by the
// hub and the worker node: extraction, conversion, and vision.
func setProcessingDefaults(v *viper.Viper) {
	v.SetDefault("extract.mineru_path", "mineru")
	v.SetDefault("extract.model_source", "huggingface")
	v.SetDefault("extract.sglang_url", "")
	v.SetDefault("extract.timeout", time.Hour)
	v.SetDefault("convert.soffice_path", "")
	v.SetDefault("convert.timeout", 5*time.Minute)
	v.SetDefault("vision.endpoint", "http://localhost:30000/v1/chat/completions")
	v.SetDefault("vision.api_key", "")
	v.SetDefault("vision.model", "Qwen/Qwen2.5-VL-7B-Instruct")
	v.SetDefault("vision.timeout", 2*time.Minute)
	v.SetDefault("vision.max_image_px", 2048)
	v.SetDefault("vision.min_image_px", 28)
	v.SetDefault("vision.render_dpi", 150)
	v.SetDefault("vision.pdftoppm_path", "pdftoppm")
}
