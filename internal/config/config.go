package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the restaurant order system
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Redis    RedisConfig    `yaml:"redis"`
	Business BusinessConfig `yaml:"business"`
	Hub      HubConfig      `yaml:"hub"`
	Auth     AuthConfig     `yaml:"auth"`
	Admin    AdminConfig    `yaml:"admin_sync"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// RabbitMQConfig holds RabbitMQ connection configuration
type RabbitMQConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// RedisConfig holds the cart session store configuration
type RedisConfig struct {
	URL          string `yaml:"url"`
	CartTTLHours int    `yaml:"cart_ttl_hours"`
}

// BusinessConfig holds pricing and order numbering policy
type BusinessConfig struct {
	Timezone           string          `yaml:"timezone"`
	OrderPrefix        string          `yaml:"order_prefix"`
	TaxRate            decimal.Decimal `yaml:"tax_rate"`
	ServiceFeeRate     decimal.Decimal `yaml:"service_fee_rate"`
	ServiceFeeFlat     decimal.Decimal `yaml:"service_fee_flat"`
	OrderNumberRetries int             `yaml:"order_number_retries"`
}

// HubConfig holds broadcast hub settings
type HubConfig struct {
	URL                 string `yaml:"url"`
	SendBuffer          int    `yaml:"send_buffer"`
	WriteTimeoutSeconds int    `yaml:"write_timeout_seconds"`
}

// AuthConfig holds the token verification secret
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// AdminConfig holds the admin dashboard sync settings
type AdminConfig struct {
	APIURL              string `yaml:"api_url"`
	Token               string `yaml:"token"`
	PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
}

// Default returns the configuration used when a key is absent from both file and environment
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Host: "localhost", Port: 5432},
		RabbitMQ: RabbitMQConfig{Host: "localhost", Port: 5672, User: "guest", Password: "guest"},
		Redis:    RedisConfig{URL: "redis://localhost:6379/0", CartTTLHours: 72},
		Business: BusinessConfig{
			Timezone:           "America/New_York",
			OrderPrefix:        "ORD",
			OrderNumberRetries: 3,
		},
		Hub:   HubConfig{URL: "ws://localhost:3001/ws", SendBuffer: 32, WriteTimeoutSeconds: 10},
		Admin: AdminConfig{APIURL: "http://localhost:3000", PollIntervalSeconds: 15},
	}
}

// Load reads configuration from a YAML file, then applies overrides from
// the environment (and an optional .env file next to the binary)
func Load(filename string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	content, err := os.ReadFile(filename)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(content, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides file values with environment variables
func (c *Config) applyEnv() error {
	setString(&c.Database.Host, "DB_HOST")
	setString(&c.Database.User, "DB_USER")
	setString(&c.Database.Password, "DB_PASSWORD")
	setString(&c.Database.Database, "DB_NAME")
	setString(&c.RabbitMQ.Host, "RABBITMQ_HOST")
	setString(&c.RabbitMQ.User, "RABBITMQ_USER")
	setString(&c.RabbitMQ.Password, "RABBITMQ_PASSWORD")
	setString(&c.Redis.URL, "REDIS_URL")
	setString(&c.Business.Timezone, "BUSINESS_TIMEZONE")
	setString(&c.Business.OrderPrefix, "ORDER_PREFIX")
	setString(&c.Hub.URL, "HUB_URL")
	setString(&c.Auth.JWTSecret, "JWT_SECRET")
	setString(&c.Admin.APIURL, "ORDER_API_URL")
	setString(&c.Admin.Token, "ADMIN_SYNC_TOKEN")

	if err := setInt(&c.Database.Port, "DB_PORT"); err != nil {
		return err
	}
	if err := setInt(&c.RabbitMQ.Port, "RABBITMQ_PORT"); err != nil {
		return err
	}
	if err := setInt(&c.Admin.PollIntervalSeconds, "ADMIN_POLL_INTERVAL_SECONDS"); err != nil {
		return err
	}
	if err := setDecimal(&c.Business.TaxRate, "TAX_RATE"); err != nil {
		return err
	}
	if err := setDecimal(&c.Business.ServiceFeeRate, "SERVICE_FEE_RATE"); err != nil {
		return err
	}
	return setDecimal(&c.Business.ServiceFeeFlat, "SERVICE_FEE_FLAT")
}

// Validate checks values that would otherwise fail late at runtime
func (c *Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Business.TaxRate.IsNegative() || c.Business.ServiceFeeRate.IsNegative() || c.Business.ServiceFeeFlat.IsNegative() {
		return fmt.Errorf("business rates and fees must not be negative")
	}
	if c.Business.OrderNumberRetries < 1 {
		return fmt.Errorf("business.order_number_retries must be at least 1")
	}
	return nil
}

// Location returns the business timezone
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Business.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid business.timezone %q: %w", c.Business.Timezone, err)
	}
	return loc, nil
}

// CartTTL returns how long an idle cart session is kept
func (c *Config) CartTTL() time.Duration {
	return time.Duration(c.Redis.CartTTLHours) * time.Hour
}

// WriteTimeout returns the hub's per-client write deadline
func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.Hub.WriteTimeoutSeconds) * time.Second
}

// PollInterval returns how often admin-sync refetches while the hub is unreachable
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Admin.PollIntervalSeconds) * time.Second
}

// DatabaseURL returns a PostgreSQL connection URL
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User, c.Database.Password, c.Database.Host, c.Database.Port, c.Database.Database)
}

// RabbitMQURL returns an AMQP connection URL
func (c *Config) RabbitMQURL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d/",
		c.RabbitMQ.User, c.RabbitMQ.Password, c.RabbitMQ.Host, c.RabbitMQ.Port)
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s value: %w", key, err)
	}
	*dst = n
	return nil
}

func setDecimal(dst *decimal.Decimal, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return fmt.Errorf("invalid %s value: %w", key, err)
	}
	*dst = d
	return nil
}
