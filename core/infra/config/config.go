package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultAssetsDirName   = "capacitor_dev_server_assets"
	defaultServerHost      = "127.0.0.1"
	defaultServerPort      = 8080
	defaultRetryDelay      = 500 * time.Millisecond
	defaultSettleDelay     = 300 * time.Millisecond
	defaultDownloadTimeout = 5 * time.Minute
	defaultMaxFiles        = 10000
	defaultMaxFileBytes    = 256 << 20
	defaultMaxTotalBytes   = 1 << 30
	defaultPrefsBackend    = PrefsFile
	defaultPrefsFileName   = "capacitor_dev_server_prefs.yaml"
	defaultReloadSubject   = "devserver.events"
	defaultHTTPAddr        = "127.0.0.1:8181"
	defaultMetricsAddr     = "127.0.0.1:9192"

	envConfigPath      = "DEVSERVER_CONFIG"
	envDataDir         = "DEVSERVER_DATA_DIR"
	envAssetsDir       = "DEVSERVER_ASSETS_DIR"
	envServerHost      = "DEVSERVER_SERVER_HOST"
	envServerPort      = "DEVSERVER_SERVER_PORT"
	envRetryDelay      = "DEVSERVER_BIND_RETRY_DELAY"
	envSettleDelay     = "DEVSERVER_SETTLE_DELAY"
	envDownloadTimeout = "DEVSERVER_DOWNLOAD_TIMEOUT"
	envPrefsBackend    = "DEVSERVER_PREFS_BACKEND"
	envPrefsPath       = "DEVSERVER_PREFS_PATH"
	envRedisURL        = "REDIS_URL"
	envNATSURL         = "NATS_URL"
	envEventSubject    = "DEVSERVER_EVENT_SUBJECT"
	envHTTPAddr        = "DEVSERVER_HTTP_ADDR"
	envMetricsAddr     = "DEVSERVER_METRICS_ADDR"
	envAPIKey          = "DEVSERVER_API_KEY"
	envAllowedOrigins  = "DEVSERVER_ALLOWED_ORIGINS"
)

// Prefs backends.
const (
	PrefsFile   = "file"
	PrefsRedis  = "redis"
	PrefsMemory = "memory"
)

// Config holds runtime configuration for the bridge and its collaborators.
type Config struct {
	AssetsDir       string        `yaml:"assets_dir"`
	ServerHost      string        `yaml:"server_host"`
	ServerPort      int           `yaml:"server_port"`
	RetryDelay      time.Duration `yaml:"bind_retry_delay"`
	SettleDelay     time.Duration `yaml:"settle_delay"`
	DownloadTimeout time.Duration `yaml:"download_timeout"`
	MaxFiles        int           `yaml:"max_archive_files"`
	MaxFileBytes    int64         `yaml:"max_file_bytes"`
	MaxTotalBytes   int64         `yaml:"max_total_bytes"`
	PrefsBackend    string        `yaml:"prefs_backend"`
	PrefsPath       string        `yaml:"prefs_path"`
	RedisURL        string        `yaml:"redis_url"`
	NatsURL         string        `yaml:"nats_url"`
	EventSubject    string        `yaml:"event_subject"`
	HTTPAddr        string        `yaml:"http_addr"`
	MetricsAddr     string        `yaml:"metrics_addr"`
	APIKey          string        `yaml:"api_key"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

// Default returns the built-in configuration rooted at dataDir.
func Default(dataDir string) *Config {
	if dataDir == "" {
		dataDir = defaultDataDir()
	}
	return &Config{
		AssetsDir:       filepath.Join(dataDir, defaultAssetsDirName),
		ServerHost:      defaultServerHost,
		ServerPort:      defaultServerPort,
		RetryDelay:      defaultRetryDelay,
		SettleDelay:     defaultSettleDelay,
		DownloadTimeout: defaultDownloadTimeout,
		MaxFiles:        defaultMaxFiles,
		MaxFileBytes:    defaultMaxFileBytes,
		MaxTotalBytes:   defaultMaxTotalBytes,
		PrefsBackend:    defaultPrefsBackend,
		PrefsPath:       filepath.Join(dataDir, defaultPrefsFileName),
		EventSubject:    defaultReloadSubject,
		HTTPAddr:        defaultHTTPAddr,
		MetricsAddr:     defaultMetricsAddr,
	}
}

// Load returns configuration from defaults, an optional YAML file named by
// DEVSERVER_CONFIG, and environment variables, in increasing precedence.
func Load() (*Config, error) {
	cfg := Default(os.Getenv(envDataDir))
	if path := strings.TrimSpace(os.Getenv(envConfigPath)); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.overlayEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse overlays YAML data onto the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default("")
	if len(data) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func (c *Config) overlayFile(path string) error {
	// #nosec G304 -- config path is operator-provided.
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

func (c *Config) overlayEnv() error {
	setString(&c.AssetsDir, envAssetsDir)
	setString(&c.ServerHost, envServerHost)
	setString(&c.PrefsBackend, envPrefsBackend)
	setString(&c.PrefsPath, envPrefsPath)
	setString(&c.RedisURL, envRedisURL)
	setString(&c.NatsURL, envNATSURL)
	setString(&c.EventSubject, envEventSubject)
	setString(&c.HTTPAddr, envHTTPAddr)
	setString(&c.MetricsAddr, envMetricsAddr)
	setString(&c.APIKey, envAPIKey)
	if raw := strings.TrimSpace(os.Getenv(envAllowedOrigins)); raw != "" {
		c.AllowedOrigins = splitList(raw)
	}
	if raw := strings.TrimSpace(os.Getenv(envServerPort)); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", envServerPort, err)
		}
		c.ServerPort = port
	}
	for env, dst := range map[string]*time.Duration{
		envRetryDelay:      &c.RetryDelay,
		envSettleDelay:     &c.SettleDelay,
		envDownloadTimeout: &c.DownloadTimeout,
	} {
		raw := strings.TrimSpace(os.Getenv(env))
		if raw == "" {
			continue
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", env, err)
		}
		*dst = d
	}
	return nil
}

// Validate rejects configurations the bridge cannot run with.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config required")
	}
	if strings.TrimSpace(c.AssetsDir) == "" {
		return errors.New("assets_dir required")
	}
	if c.ServerPort < 0 || c.ServerPort > 65535 {
		return fmt.Errorf("server_port out of range: %d", c.ServerPort)
	}
	if !IsLoopback(c.ServerHost) {
		return fmt.Errorf("server_host must be a loopback address: %q", c.ServerHost)
	}
	if c.RetryDelay < 0 || c.SettleDelay < 0 {
		return errors.New("bind delays must not be negative")
	}
	switch c.PrefsBackend {
	case PrefsFile:
		if strings.TrimSpace(c.PrefsPath) == "" {
			return errors.New("prefs_path required for file backend")
		}
	case PrefsRedis:
		if strings.TrimSpace(c.RedisURL) == "" {
			return errors.New("redis_url required for redis backend")
		}
	case PrefsMemory:
	default:
		return fmt.Errorf("unknown prefs_backend %q", c.PrefsBackend)
	}
	return nil
}

// IsLoopback reports whether host names the local loopback interface.
func IsLoopback(host string) bool {
	host = strings.TrimSpace(host)
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return filepath.Join(dir, "devserver")
	}
	return filepath.Join(os.TempDir(), "devserver")
}

func setString(dst *string, env string) {
	if val := strings.TrimSpace(os.Getenv(env)); val != "" {
		*dst = val
	}
}

func splitList(raw string) []string {
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\t'
	})
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}
