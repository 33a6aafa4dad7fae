package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"parkledger/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
	Pricing    PricingConfig    `yaml:"pricing"`
	Allocation AllocationConfig `yaml:"allocation"`
	Sweeper    SweeperConfig    `yaml:"sweeper"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Exports    ExportConfig     `yaml:"exports"`
	Lots       []models.Lot     `yaml:"lots"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	GRPC      APIGRPCConfig      `yaml:"grpc"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIGRPCConfig struct {
	Enabled    bool         `yaml:"enabled"`
	Port       int          `yaml:"port"`
	Reflection bool         `yaml:"reflection"`
	TLS        APITLSConfig `yaml:"tls"`
}

type APITLSConfig struct {
	Enabled           bool   `yaml:"enabled"`
	CertFile          string `yaml:"cert_file"`
	KeyFile           string `yaml:"key_file"`
	ClientCAFile      string `yaml:"client_ca_file"`
	RequireClientCert bool   `yaml:"require_client_cert"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`

	// JWTSecret enables HS256 bearer tokens whose subject is the requester.
	JWTSecret string `yaml:"jwt_secret"`
	// RequesterHeader carries the requester id when JWTSecret is empty.
	RequesterHeader string `yaml:"requester_header"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type PricingConfig struct {
	MinimumHours float64 `yaml:"minimum_hours"`
	RoundingMode string  `yaml:"rounding_mode"`
}

type AllocationConfig struct {
	Strategy string `yaml:"strategy"`
	// LockTTL is the lot lock lease in seconds.
	LockTTL int `yaml:"lock_ttl"`
	// LockWait bounds waiting for a lot lock, in milliseconds.
	LockWait int `yaml:"lock_wait"`
}

func (a AllocationConfig) LockTTLDuration() time.Duration {
	return time.Duration(a.LockTTL) * time.Second
}

func (a AllocationConfig) LockWaitDuration() time.Duration {
	return time.Duration(a.LockWait) * time.Millisecond
}

type SweeperConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if c.Pricing.MinimumHours < 0 {
		return errors.New("pricing.minimum_hours must not be negative")
	}
	switch c.Pricing.RoundingMode {
	case models.RoundingHalfUp, models.RoundingTruncate:
	default:
		return fmt.Errorf("unknown pricing.rounding_mode %q", c.Pricing.RoundingMode)
	}

	switch c.Allocation.Strategy {
	case models.StrategyOptimistic, models.StrategyLotLock:
	default:
		return fmt.Errorf("unknown allocation.strategy %q", c.Allocation.Strategy)
	}
	if c.Allocation.LockTTL <= 0 {
		return fmt.Errorf("allocation.lock_ttl must be positive, got %d", c.Allocation.LockTTL)
	}
	if c.Allocation.LockWait <= 0 {
		return fmt.Errorf("allocation.lock_wait must be positive, got %d", c.Allocation.LockWait)
	}

	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return errors.New("kafka.topic is required when kafka.brokers is set")
	}

	return ValidateLots(c.Lots)
}

func ValidateLots(lots []models.Lot) error {
	lotIDs := make(map[int64]bool)
	for _, lot := range lots {
		if lot.ID <= 0 {
			return fmt.Errorf("lot '%s' has invalid ID %d", lot.Name, lot.ID)
		}
		if lotIDs[lot.ID] {
			return fmt.Errorf("duplicate lot ID found: %d", lot.ID)
		}
		lotIDs[lot.ID] = true

		if lot.PricePerHour.IsNegative() {
			return fmt.Errorf("lot %d has negative price_per_hour", lot.ID)
		}
		if lot.Capacity < 0 {
			return fmt.Errorf("lot %d has negative capacity", lot.ID)
		}

		spots := make(map[int]bool, len(lot.Spots))
		for _, n := range lot.Spots {
			if n <= 0 {
				return fmt.Errorf("lot %d has invalid spot number %d", lot.ID, n)
			}
			if spots[n] {
				return fmt.Errorf("lot %d has duplicate spot number %d", lot.ID, n)
			}
			spots[n] = true
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "parkledger"
	}
	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}
	if c.API.Auth.RequesterHeader == "" {
		c.API.Auth.RequesterHeader = "x-requester-id"
	}

	if c.Pricing.RoundingMode == "" {
		c.Pricing.RoundingMode = models.RoundingHalfUp
	}
	if c.Allocation.Strategy == "" {
		c.Allocation.Strategy = models.StrategyOptimistic
	}
	if c.Allocation.LockTTL == 0 {
		c.Allocation.LockTTL = models.DefaultLockTTL
	}
	if c.Allocation.LockWait == 0 {
		c.Allocation.LockWait = models.DefaultLockWait
	}
	if c.Sweeper.Schedule == "" {
		c.Sweeper.Schedule = models.DefaultSweeperSchedule
	}
	if c.Backup.Schedule == "" {
		c.Backup.Schedule = "@daily"
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
}
