package config

import "time"

// LoggingConfig contains logging-related configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StorageConfig configures the S3-compatible artifact store (MinIO in the
// default deployment).
type StorageConfig struct {
	Endpoint      string        `mapstructure:"endpoint"`
	Region        string        `mapstructure:"region"`
	Bucket        string        `mapstructure:"bucket"`
	AccessKey     string        `mapstructure:"access_key"`
	SecretKey     string        `mapstructure:"secret_key"`
	UseSSL        bool          `mapstructure:"use_ssl"`
	PresignExpiry time.Duration `mapstructure:"presign_expiry"`
	MaxRetries    int           `mapstructure:"max_retries"`
}

// ExtractConfig configures the MinerU extraction runner.
type ExtractConfig struct {
	MinerUPath  string        `mapstructure:"mineru_path"`
	ModelSource string        `mapstructure:"model_source"`
	SglangURL   string        `mapstructure:"sglang_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// ConvertConfig configures the LibreOffice document converter.
type ConvertConfig struct {
	SofficePath string        `mapstructure:"soffice_path"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// VisionConfig configures the vision-language model client and the PDF
// page renderer feeding it.
type VisionConfig struct {
	Endpoint     string        `mapstructure:"endpoint"`
	APIKey       string        `mapstructure:"api_key"`
	Model        string        `mapstructure:"model"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxImagePx   int           `mapstructure:"max_image_px"`
	MinImagePx   int           `mapstructure:"min_image_px"`
	RenderDPI    int           `mapstructure:"render_dpi"`
	PdftoppmPath string        `mapstructure:"pdftoppm_path"`
}
