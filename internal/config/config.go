// Package config loads the settings of the credo-limiter binary.
//
// Values are layered: built-in defaults, then an optional YAML file, then an
// optional .env file, then CREDO_* environment variables. The result is
// validated before it is returned.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/herculesinc/credo.rate-limiter/pkg/limiter"
)

const envPrefix = "CREDO_"

// Backend types
const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

type Config struct {
	Limiter   LimiterConfig   `yaml:"limiter"`
	Redis     RedisConfig     `yaml:"redis"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Policy    PolicyConfig    `yaml:"policy"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Server    ServerConfig    `yaml:"server"`
}

type LimiterConfig struct {
	Name        string        `yaml:"name"`
	Namespace   string        `yaml:"namespace"`
	Prefix      string        `yaml:"prefix"`
	Backend     string        `yaml:"backend"`
	Timeout     time.Duration `yaml:"timeout"`
	ErrorBuffer int           `yaml:"error_buffer"`
}

type RedisConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	MaxRetries   int           `yaml:"max_retries"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	Cluster      bool          `yaml:"cluster"`
	ClusterNodes []string      `yaml:"cluster_nodes"`
}

type ReconnectConfig struct {
	Step         time.Duration `yaml:"step"`
	Cap          time.Duration `yaml:"cap"`
	MaxRetryTime time.Duration `yaml:"max_retry_time"`
}

// PolicyConfig is the policy applied by the demo server and the try command.
type PolicyConfig struct {
	Window time.Duration `yaml:"window"`
	Limit  int64         `yaml:"limit"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	Port    int    `yaml:"port"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Default returns a configuration that runs against a local Redis.
func Default() *Config {
	return &Config{
		Limiter: LimiterConfig{
			Name:        "rate-limiter",
			Prefix:      limiter.DefaultPrefix,
			Backend:     BackendRedis,
			Timeout:     5 * time.Second,
			ErrorBuffer: 16,
		},
		Redis: RedisConfig{
			Host:        "localhost",
			Port:        6379,
			PoolSize:    20,
			MaxRetries:  3,
			DialTimeout: 5 * time.Second,
		},
		Reconnect: ReconnectConfig{
			Step:         limiter.DefaultReconnectStep,
			Cap:          limiter.DefaultReconnectCap,
			MaxRetryTime: limiter.DefaultReconnectMaxRetryTime,
		},
		Policy: PolicyConfig{
			Window: time.Minute,
			Limit:  60,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9090,
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Load builds the configuration. Either path may be empty. A missing env
// file is not an error; a missing config file is.
func Load(configPath, envFile string) (*Config, error) {
	config := Default()

	if configPath != "" {
		if err := loadFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}

	if err := loadFromEnvironment(config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

func loadFromFile(config *Config, filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config file not found: %s", filePath)
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

// envReader applies CREDO_* variables and remembers the first malformed one.
type envReader struct {
	err error
}

func (r *envReader) lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + name)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (r *envReader) fail(name, value string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("invalid %s%s=%q: %w", envPrefix, name, value, err)
	}
}

func (r *envReader) str(name string, dst *string) {
	if v, ok := r.lookup(name); ok {
		*dst = v
	}
}

func (r *envReader) integer(name string, dst *int) {
	if v, ok := r.lookup(name); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			r.fail(name, v, err)
			return
		}
		*dst = n
	}
}

func (r *envReader) int64(name string, dst *int64) {
	if v, ok := r.lookup(name); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			r.fail(name, v, err)
			return
		}
		*dst = n
	}
}

func (r *envReader) boolean(name string, dst *bool) {
	if v, ok := r.lookup(name); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			r.fail(name, v, err)
			return
		}
		*dst = b
	}
}

func (r *envReader) duration(name string, dst *time.Duration) {
	if v, ok := r.lookup(name); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			r.fail(name, v, err)
			return
		}
		*dst = d
	}
}

func (r *envReader) list(name string, dst *[]string) {
	if v, ok := r.lookup(name); ok {
		var out []string
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		*dst = out
	}
}

func loadFromEnvironment(config *Config) error {
	r := &envReader{}

	// Limiter
	r.str("LIMITER_NAME", &config.Limiter.Name)
	r.str("LIMITER_NAMESPACE", &config.Limiter.Namespace)
	r.str("LIMITER_PREFIX", &config.Limiter.Prefix)
	r.str("LIMITER_BACKEND", &config.Limiter.Backend)
	r.duration("LIMITER_TIMEOUT", &config.Limiter.Timeout)
	r.integer("LIMITER_ERROR_BUFFER", &config.Limiter.ErrorBuffer)

	// Redis
	r.str("REDIS_HOST", &config.Redis.Host)
	r.integer("REDIS_PORT", &config.Redis.Port)
	r.str("REDIS_PASSWORD", &config.Redis.Password)
	r.integer("REDIS_DB", &config.Redis.DB)
	r.integer("REDIS_POOL_SIZE", &config.Redis.PoolSize)
	r.integer("REDIS_MAX_RETRIES", &config.Redis.MaxRetries)
	r.duration("REDIS_DIAL_TIMEOUT", &config.Redis.DialTimeout)
	r.boolean("REDIS_CLUSTER", &config.Redis.Cluster)
	r.list("REDIS_CLUSTER_NODES", &config.Redis.ClusterNodes)

	// Reconnect
	r.duration("RECONNECT_STEP", &config.Reconnect.Step)
	r.duration("RECONNECT_CAP", &config.Reconnect.Cap)
	r.duration("RECONNECT_MAX_RETRY_TIME", &config.Reconnect.MaxRetryTime)

	// Policy
	r.duration("POLICY_WINDOW", &config.Policy.Window)
	r.int64("POLICY_LIMIT", &config.Policy.Limit)

	// Logging
	r.str("LOG_LEVEL", &config.Logging.Level)
	r.str("LOG_FORMAT", &config.Logging.Format)
	r.str("LOG_OUTPUT", &config.Logging.Output)
	r.str("LOG_FILE_PATH", &config.Logging.FilePath)

	// Metrics
	r.boolean("METRICS_ENABLED", &config.Metrics.Enabled)
	r.str("METRICS_PATH", &config.Metrics.Path)
	r.integer("METRICS_PORT", &config.Metrics.Port)

	// Server
	r.str("SERVER_HOST", &config.Server.Host)
	r.integer("SERVER_PORT", &config.Server.Port)
	r.duration("SERVER_READ_TIMEOUT", &config.Server.ReadTimeout)
	r.duration("SERVER_WRITE_TIMEOUT", &config.Server.WriteTimeout)

	return r.err
}

func (c *Config) Validate() error {
	if err := c.Limiter.Validate(); err != nil {
		return fmt.Errorf("invalid limiter config: %w", err)
	}
	if c.Limiter.Backend == BackendRedis {
		if err := c.Redis.Validate(); err != nil {
			return fmt.Errorf("invalid redis config: %w", err)
		}
		if err := c.Reconnect.Validate(); err != nil {
			return fmt.Errorf("invalid reconnect config: %w", err)
		}
	}
	if err := c.Policy.Validate(); err != nil {
		return fmt.Errorf("invalid policy config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}
	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}
	return nil
}

func (lc *LimiterConfig) Validate() error {
	if lc.Name == "" {
		return errors.New("name cannot be empty")
	}
	if lc.Backend != BackendRedis && lc.Backend != BackendMemory {
		return fmt.Errorf("invalid backend: %s", lc.Backend)
	}
	if lc.Timeout < 0 {
		return errors.New("timeout cannot be negative")
	}
	if lc.ErrorBuffer < 0 {
		return errors.New("error buffer cannot be negative")
	}
	return nil
}

func (rc *RedisConfig) Validate() error {
	if rc.Cluster {
		if len(rc.ClusterNodes) == 0 {
			return errors.New("cluster nodes are required when cluster is enabled")
		}
		return nil
	}
	if rc.Host == "" {
		return errors.New("host cannot be empty")
	}
	if rc.Port <= 0 || rc.Port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}
	if rc.DB < 0 {
		return errors.New("db cannot be negative")
	}
	return nil
}

func (rc *ReconnectConfig) Validate() error {
	if rc.Step < 0 || rc.Cap < 0 || rc.MaxRetryTime < 0 {
		return errors.New("durations cannot be negative")
	}
	if rc.Step > 0 && rc.Cap > 0 && rc.Cap < rc.Step {
		return errors.New("cap cannot be smaller than step")
	}
	return nil
}

func (pc *PolicyConfig) Validate() error {
	p := limiter.Policy{Window: pc.Window, Limit: pc.Limit}
	return p.Validate()
}

func (lc *LoggingConfig) Validate() error {
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, lc.Level) {
		return fmt.Errorf("invalid log level: %s", lc.Level)
	}
	if !slices.Contains([]string{"json", "text"}, lc.Format) {
		return fmt.Errorf("invalid log format: %s", lc.Format)
	}
	if !slices.Contains([]string{"stdout", "stderr", "file"}, lc.Output) {
		return fmt.Errorf("invalid log output: %s", lc.Output)
	}
	if lc.Output == "file" && lc.FilePath == "" {
		return errors.New("file path is required when output is file")
	}
	return nil
}

func (mc *MetricsConfig) Validate() error {
	if !mc.Enabled {
		return nil
	}
	if mc.Path == "" {
		return errors.New("metrics path cannot be empty")
	}
	if mc.Port <= 0 || mc.Port > 65535 {
		return errors.New("metrics port must be between 1 and 65535")
	}
	return nil
}

func (sc *ServerConfig) Validate() error {
	if sc.Host == "" {
		return errors.New("host cannot be empty")
	}
	if sc.Port <= 0 || sc.Port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}
	if sc.ReadTimeout < 0 || sc.WriteTimeout < 0 {
		return errors.New("timeouts cannot be negative")
	}
	return nil
}

// ToLimiterConfig converts the store settings into a limiter.Config.
func (c *Config) ToLimiterConfig() limiter.Config {
	return limiter.Config{
		Name:      c.Limiter.Name,
		Namespace: c.Limiter.Namespace,
		Redis: limiter.RedisConfig{
			Host:         c.Redis.Host,
			Port:         c.Redis.Port,
			Password:     c.Redis.Password,
			DB:           c.Redis.DB,
			Cluster:      c.Redis.Cluster,
			ClusterNodes: c.Redis.ClusterNodes,
			PoolSize:     c.Redis.PoolSize,
			MaxRetries:   c.Redis.MaxRetries,
			DialTimeout:  c.Redis.DialTimeout,
		},
		Reconnect: limiter.ReconnectPolicy{
			Step:         c.Reconnect.Step,
			Cap:          c.Reconnect.Cap,
			MaxRetryTime: c.Reconnect.MaxRetryTime,
		},
	}
}

// LimiterOptions returns the options implied by the limiter section.
func (c *Config) LimiterOptions() []limiter.Option {
	return []limiter.Option{
		limiter.WithPrefix(c.Limiter.Prefix),
		limiter.WithTimeout(c.Limiter.Timeout),
		limiter.WithErrorBuffer(c.Limiter.ErrorBuffer),
	}
}

func (c *Config) ToPolicy() limiter.Policy {
	return limiter.Policy{Window: c.Policy.Window, Limit: c.Policy.Limit}
}

// WriteExample writes the default configuration as YAML to filePath.
func WriteExample(filePath string) error {
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	config := Default()
	config.Limiter.Namespace = "example"
	config.Redis.Password = "change-me"

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
