package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pdfsqueeze/internal/compressor"

	"github.com/spf13/viper"
)

// Config represents the main configuration structure
type Config struct {
	Engine      EngineConfig      `mapstructure:"engine"`
	Compression CompressionConfig `mapstructure:"compression"`
	Server      ServerConfig      `mapstructure:"server"`
	Performance PerformanceConfig `mapstructure:"performance"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// EngineConfig controls how the Ghostscript executable is found and run
type EngineConfig struct {
	Path        string        `mapstructure:"path"`
	SearchPaths []string      `mapstructure:"search_paths"`
	Timeout     time.Duration `mapstructure:"timeout"`
	StderrLimit int           `mapstructure:"stderr_limit"` // bytes
}

// CompressionConfig contains per-job defaults
type CompressionConfig struct {
	DefaultQuality string `mapstructure:"default_quality"`
	OutputDir      string `mapstructure:"output_dir"`
}

// ServerConfig contains HTTP serving settings
type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	TempDir           string        `mapstructure:"temp_dir"`
	MaxUploadSize     int64         `mapstructure:"max_upload_size"` // bytes
	MaxConcurrentJobs int           `mapstructure:"max_concurrent_jobs"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
}

// PerformanceConfig contains batch tuning settings
type PerformanceConfig struct {
	WorkerThreads  int `mapstructure:"worker_threads"`
	MaxFilesPerRun int `mapstructure:"max_files_per_run"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // json or text
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
}

// legacyEnv maps config keys to the plain environment variables older
// deployments set. The PDFSQUEEZE_ form still takes precedence.
var legacyEnv = map[string]string{
	"server.port":            "PORT",
	"server.max_upload_size": "MAX_FILE_SIZE",
	"engine.path":            "GHOSTSCRIPT_PATH",
}

const envPrefix = "PDFSQUEEZE"

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			Timeout:     compressor.DefaultTimeout,
			StderrLimit: compressor.DefaultStderrLimit,
		},
		Compression: CompressionConfig{
			DefaultQuality: compressor.DefaultQuality,
		},
		Server: ServerConfig{
			Port:              5000,
			MaxUploadSize:     100 * 1024 * 1024,
			MaxConcurrentJobs: 4,
			ReadTimeout:       60 * time.Second,
			WriteTimeout:      5 * time.Minute,
			IdleTimeout:       120 * time.Second,
		},
		Performance: PerformanceConfig{
			WorkerThreads:  4,
			MaxFilesPerRun: 0, // 0 means no limit
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			FilePath:   "",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     30,
			Compress:   true,
		},
	}
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()
	v := viper.New()

	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config file in current directory and home directory
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.pdfsqueeze")
		v.AddConfigPath("/etc/pdfsqueeze")
	}

	// AutomaticEnv only sees keys viper already knows about
	setDefaults(v, config)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, env := range legacyEnv {
		if err := v.BindEnv(key, envPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("error binding %s: %w", env, err)
		}
	}

	// Try to read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func setDefaults(v *viper.Viper, c *Config) {
	v.SetDefault("engine.path", c.Engine.Path)
	v.SetDefault("engine.search_paths", c.Engine.SearchPaths)
	v.SetDefault("engine.timeout", c.Engine.Timeout)
	v.SetDefault("engine.stderr_limit", c.Engine.StderrLimit)

	v.SetDefault("compression.default_quality", c.Compression.DefaultQuality)
	v.SetDefault("compression.output_dir", c.Compression.OutputDir)

	v.SetDefault("server.port", c.Server.Port)
	v.SetDefault("server.temp_dir", c.Server.TempDir)
	v.SetDefault("server.max_upload_size", c.Server.MaxUploadSize)
	v.SetDefault("server.max_concurrent_jobs", c.Server.MaxConcurrentJobs)
	v.SetDefault("server.read_timeout", c.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", c.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", c.Server.IdleTimeout)

	v.SetDefault("performance.worker_threads", c.Performance.WorkerThreads)
	v.SetDefault("performance.max_files_per_run", c.Performance.MaxFilesPerRun)

	v.SetDefault("logging.level", c.Logging.Level)
	v.SetDefault("logging.format", c.Logging.Format)
	v.SetDefault("logging.file_path", c.Logging.FilePath)
	v.SetDefault("logging.max_size", c.Logging.MaxSize)
	v.SetDefault("logging.max_backups", c.Logging.MaxBackups)
	v.SetDefault("logging.max_age", c.Logging.MaxAge)
	v.SetDefault("logging.compress", c.Logging.Compress)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Compression.DefaultQuality == "" {
		c.Compression.DefaultQuality = compressor.DefaultQuality
	}
	if !compressor.IsValidQuality(c.Compression.DefaultQuality) {
		return fmt.Errorf("invalid default_quality: %s (valid: %s)",
			c.Compression.DefaultQuality, strings.Join(compressor.ProfileNames(), ", "))
	}

	c.Engine.Path = expandPath(c.Engine.Path)
	c.Compression.OutputDir = expandPath(c.Compression.OutputDir)
	c.Server.TempDir = expandPath(c.Server.TempDir)

	if c.Engine.Timeout == 0 {
		c.Engine.Timeout = compressor.DefaultTimeout
	}
	if c.Engine.StderrLimit <= 0 {
		c.Engine.StderrLimit = compressor.DefaultStderrLimit
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.MaxUploadSize <= 0 {
		return fmt.Errorf("max_upload_size must be positive, got %d", c.Server.MaxUploadSize)
	}
	if c.Server.MaxConcurrentJobs <= 0 {
		c.Server.MaxConcurrentJobs = 4
	}

	if c.Performance.WorkerThreads <= 0 {
		c.Performance.WorkerThreads = 4
	}
	if c.Performance.MaxFilesPerRun < 0 {
		c.Performance.MaxFilesPerRun = 0
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	c.Logging.Format = strings.ToLower(c.Logging.Format)
	switch c.Logging.Format {
	case "":
		c.Logging.Format = "json"
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s (valid: json, text)", c.Logging.Format)
	}

	return nil
}

// GetTempDir returns the directory for uploads, or the system temp directory
func (c *Config) GetTempDir() string {
	if c.Server.TempDir != "" {
		return c.Server.TempDir
	}
	return os.TempDir()
}

// Helper functions

func expandPath(path string) string {
	if path == "" {
		return ""
	}

	expanded := os.ExpandEnv(path)
	if strings.HasPrefix(expanded, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return expanded
		}
		expanded = filepath.Join(home, expanded[1:])
	}
	return expanded
}
