package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	reviewcache "github.com/dgduncan/go-review-cache"
)

// Persistent store backends selectable with STORE_BACKEND.
const (
	StoreLocal    = "local"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
	StoreDynamoDB = "dynamodb"
)

type Config struct {
	AppEnv        string        `mapstructure:"APP_ENV"`
	LogLevel      string        `mapstructure:"LOG_LEVEL"`
	AdminAddr     string        `mapstructure:"ADMIN_ADDR"`
	SweepInterval time.Duration `mapstructure:"SWEEP_INTERVAL"`

	// --- hosted tables ---
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// --- auth ---
	AuthURL    string `mapstructure:"AUTH_URL"`
	AuthAPIKey string `mapstructure:"AUTH_API_KEY"`

	// --- S3 ---
	S3Endpoint  string `mapstructure:"S3_ENDPOINT"`
	S3Region    string `mapstructure:"S3_REGION"`
	S3AccessKey string `mapstructure:"S3_ACCESS_KEY"`
	S3SecretKey string `mapstructure:"S3_SECRET_KEY"`
	S3UseSSL    bool   `mapstructure:"S3_USE_SSL"`
	S3PathStyle bool   `mapstructure:"S3_PATH_STYLE"`
	S3PublicURL string `mapstructure:"S3_PUBLIC_URL"`

	// --- persistent mirror ---
	StoreBackend   string `mapstructure:"STORE_BACKEND"`
	StoreDSN       string `mapstructure:"STORE_DSN"`
	RedisAddr      string `mapstructure:"REDIS_ADDR"`
	RedisPassword  string `mapstructure:"REDIS_PASSWORD"`
	RedisDB        int    `mapstructure:"REDIS_DB"`
	DynamoTable    string `mapstructure:"DYNAMO_TABLE"`
	DynamoEndpoint string `mapstructure:"DYNAMO_ENDPOINT"`
	AWSRegion      string `mapstructure:"AWS_REGION"`

	// CacheTTLFile optionally points at a YAML file overriding reviewcache.Config fields.
	CacheTTLFile string `mapstructure:"CACHE_TTL_FILE"`
}

var defaults = map[string]any{
	"APP_ENV":        "development",
	"LOG_LEVEL":      "info",
	"ADMIN_ADDR":     ":9090",
	"SWEEP_INTERVAL": "10m",
	"S3_REGION":      "us-east-1",
	"S3_PATH_STYLE":  true,
	"STORE_BACKEND":  StoreLocal,
	"REDIS_ADDR":     "localhost:6379",
	"DYNAMO_TABLE":   "review-cache",
	"AWS_REGION":     "us-east-1",
}

var keys = []string{
	"APP_ENV", "LOG_LEVEL", "ADMIN_ADDR", "SWEEP_INTERVAL",
	"DATABASE_URL",
	"AUTH_URL", "AUTH_API_KEY",
	"S3_ENDPOINT", "S3_REGION", "S3_ACCESS_KEY", "S3_SECRET_KEY", "S3_USE_SSL", "S3_PATH_STYLE", "S3_PUBLIC_URL",
	"STORE_BACKEND", "STORE_DSN", "REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB",
	"DYNAMO_TABLE", "DYNAMO_ENDPOINT", "AWS_REGION",
	"CACHE_TTL_FILE",
}

func mask(s string) string {
	if s == "" {
		return "(empty)"
	}
	return "********"
}

// String implements fmt.Stringer with secrets masked.
func (c *Config) String() string {
	var sb strings.Builder
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "  AppEnv: %s\n", c.AppEnv)
	fmt.Fprintf(&sb, "  LogLevel: %s\n", c.LogLevel)
	fmt.Fprintf(&sb, "  AdminAddr: %s\n", c.AdminAddr)
	fmt.Fprintf(&sb, "  SweepInterval: %s\n", c.SweepInterval)
	fmt.Fprintf(&sb, "  DatabaseURL: %s\n", mask(c.DatabaseURL))
	fmt.Fprintf(&sb, "  AuthURL: %s\n", c.AuthURL)
	fmt.Fprintf(&sb, "  AuthAPIKey: %s\n", mask(c.AuthAPIKey))
	fmt.Fprintf(&sb, "  S3Endpoint: %s\n", c.S3Endpoint)
	fmt.Fprintf(&sb, "  S3Region: %s\n", c.S3Region)
	fmt.Fprintf(&sb, "  S3AccessKey: %s\n", mask(c.S3AccessKey))
	fmt.Fprintf(&sb, "  S3SecretKey: %s\n", mask(c.S3SecretKey))
	fmt.Fprintf(&sb, "  S3UseSSL: %v\n", c.S3UseSSL)
	fmt.Fprintf(&sb, "  S3PathStyle: %v\n", c.S3PathStyle)
	fmt.Fprintf(&sb, "  StoreBackend: %s\n", c.StoreBackend)
	fmt.Fprintf(&sb, "  StoreDSN: %s\n", mask(c.StoreDSN))
	fmt.Fprintf(&sb, "  RedisAddr: %s\n", c.RedisAddr)
	fmt.Fprintf(&sb, "  RedisPassword: %s\n", mask(c.RedisPassword))
	fmt.Fprintf(&sb, "  DynamoTable: %s\n", c.DynamoTable)
	fmt.Fprintf(&sb, "  CacheTTLFile: %s\n", c.CacheTTLFile)
	return sb.String()
}

// LoadFromEnv loads configuration from the environment, reading .env first
// when it exists.
func LoadFromEnv() (*Config, error) {
	return Load(".env")
}

// Load reads envFile (if present) into the process environment and decodes
// the known keys.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, fmt.Errorf("load %s: %w", envFile, err)
			}
		}
	}

	v := viper.New()
	v.AutomaticEnv()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreBackend {
	case StoreLocal, StoreRedis, StoreDynamoDB:
	case StorePostgres:
		if c.StoreDSN == "" {
			return errors.New("STORE_DSN is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive, got %s", c.SweepInterval)
	}
	return nil
}

// CacheConfig returns the default cache configuration with the TTL file
// applied on top. Fields missing from the file keep their defaults.
func (c *Config) CacheConfig() (reviewcache.Config, error) {
	cc := reviewcache.DefaultConfig()
	if c.CacheTTLFile != "" {
		b, err := os.ReadFile(c.CacheTTLFile)
		if err != nil {
			return reviewcache.Config{}, fmt.Errorf("read ttl file: %w", err)
		}
		if err := yaml.Unmarshal(b, &cc); err != nil {
			return reviewcache.Config{}, fmt.Errorf("parse ttl file: %w", err)
		}
	}
	if err := cc.Validate(); err != nil {
		return reviewcache.Config{}, err
	}
	return cc, nil
}
