package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// WorkerConfig contains all configuration for a remote worker node. The
// node serves the worker protocol and runs the same processing pipeline
// as the hub, pinned to one local GPU.
type WorkerConfig struct {
	Server       WorkerServerConfig `mapstructure:"server"`
	GPUOrdinal   int                `mapstructure:"gpu_ordinal"`
	Capabilities []string           `mapstructure:"capabilities"`
	DataDir      string             `mapstructure:"data_dir"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Extract      ExtractConfig      `mapstructure:"extract"`
	Convert      ConvertConfig      `mapstructure:"convert"`
	Vision       VisionConfig       `mapstructure:"vision"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// WorkerServerConfig contains the worker protocol server configuration.
// Processing is synchronous, so the write timeout must cover the longest
// extraction run.
type WorkerServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// LoadWorker loads the worker node configuration from the given path. If
// configPath is empty, it looks for worker.yaml in the config/ directory.
// Environment variables with MINERUVISION_WORKER_ prefix override config
// file values.
func LoadWorker(configPath string) (*WorkerConfig, error) {
	v := viper.New()

	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.read_timeout", 5*time.Minute)
	v.SetDefault("server.write_timeout", 2*time.Hour)
	v.SetDefault("server.idle_timeout", 2*time.Minute)
	v.SetDefault("gpu_ordinal", 0)
	v.SetDefault("capabilities", []string{"text_extraction", "image_description", "combined"})
	v.SetDefault("data_dir", "./data")
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
		v.SetConfigName("worker")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("MINERUVISION_WORKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg WorkerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}
