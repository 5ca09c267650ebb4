package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	GRPC         GRPCConfig         `mapstructure:"grpc"`
	Etcd         EtcdConfig         `mapstructure:"etcd"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Database     DatabaseConfig     `mapstructure:"database"`
	MongoDB      MongoDBConfig      `mapstructure:"mongodb"`
	Kafka        KafkaConfig        `mapstructure:"kafka"`
	Auth         AuthConfig         `mapstructure:"auth"`
	IDGen        IDGenConfig        `mapstructure:"idgen"`
	Notification NotificationConfig `mapstructure:"notification"`
	Stripe       StripeConfig       `mapstructure:"stripe"`
	Orders       OrdersConfig       `mapstructure:"orders"`
	Payments     PaymentsConfig     `mapstructure:"payments"`
	Outbox       OutboxConfig       `mapstructure:"outbox"`
	Log          LogConfig          `mapstructure:"log"`
}

type ServerConfig struct {
	Name string `mapstructure:"name"`
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
	// Mode is passed to gin.SetMode.
	Mode string `mapstructure:"mode"`
}

type GRPCConfig struct {
	Port           int           `mapstructure:"port"`
	Host           string        `mapstructure:"host"`
	HealthInterval time.Duration `mapstructure:"health_interval"`
}

type EtcdConfig struct {
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	Prefix      string        `mapstructure:"prefix"`
	LeaseTTL    int64         `mapstructure:"lease_ttl"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// DatabaseConfig selects the gorm dialector. Driver is one of mysql, postgres or sqlite.
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	Path         string `mapstructure:"path"`
	SSLMode      string `mapstructure:"sslmode"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	AutoMigrate  bool   `mapstructure:"auto_migrate"`
}

type MongoDBConfig struct {
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
	Enabled    bool   `mapstructure:"enabled"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
	Enabled bool     `mapstructure:"enabled"`
}

type AuthConfig struct {
	JWTSecret  string        `mapstructure:"jwt_secret"`
	AccessTTL  time.Duration `mapstructure:"access_ttl"`
	RefreshTTL time.Duration `mapstructure:"refresh_ttl"`
	OTPTTL     time.Duration `mapstructure:"otp_ttl"`
}

type IDGenConfig struct {
	DatacenterID int64 `mapstructure:"datacenter_id"`
	WorkerID     int64 `mapstructure:"worker_id"`
	// ClaimFromEtcd leases a free worker id under the etcd prefix instead of using WorkerID.
	// Startup fails when no id can be claimed, and losing the lease stops id generation.
	ClaimFromEtcd bool `mapstructure:"claim_from_etcd"`
}

type NotificationConfig struct {
	MaxRetries  int            `mapstructure:"max_retries"`
	RetryDelay  time.Duration  `mapstructure:"retry_delay"`
	SendTimeout time.Duration  `mapstructure:"send_timeout"`
	SMTP        SMTPConfig     `mapstructure:"smtp"`
	Telegram    TokenConfig    `mapstructure:"telegram"`
	WhatsApp    WhatsAppConfig `mapstructure:"whatsapp"`
	SMSWebhook  string         `mapstructure:"sms_webhook"`
	PushWebhook string         `mapstructure:"push_webhook"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type TokenConfig struct {
	Token string `mapstructure:"token"`
}

type WhatsAppConfig struct {
	Token   string `mapstructure:"token"`
	PhoneID string `mapstructure:"phone_id"`
}

type StripeConfig struct {
	SecretKey     string `mapstructure:"secret_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	SuccessURL    string `mapstructure:"success_url"`
	CancelURL     string `mapstructure:"cancel_url"`
}

type OrdersConfig struct {
	StrictTransitions bool `mapstructure:"strict_transitions"`
}

type PaymentsConfig struct {
	StrictTransitions bool `mapstructure:"strict_transitions"`
}

type OutboxConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
}

type LogConfig struct {
	Level       string   `mapstructure:"level"`
	Encoding    string   `mapstructure:"encoding"`
	OutputPaths []string `mapstructure:"output_paths"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.name", "storefront")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")

	v.SetDefault("grpc.host", "0.0.0.0")
	v.SetDefault("grpc.port", 9090)
	v.SetDefault("grpc.health_interval", 10*time.Second)

	v.SetDefault("etcd.dial_timeout", 5*time.Second)
	v.SetDefault("etcd.prefix", "/storefront/")
	v.SetDefault("etcd.lease_ttl", 30)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("mongodb.database", "storefront")
	v.SetDefault("mongodb.collection", "audit_logs")

	v.SetDefault("kafka.topic", "orders")
	v.SetDefault("kafka.group_id", "storefront-indexer")

	v.SetDefault("auth.access_ttl", 30*time.Minute)
	v.SetDefault("auth.refresh_ttl", 7*24*time.Hour)
	v.SetDefault("auth.otp_ttl", 10*time.Minute)

	v.SetDefault("idgen.datacenter_id", 1)
	v.SetDefault("idgen.worker_id", 1)

	v.SetDefault("notification.max_retries", 3)
	v.SetDefault("notification.retry_delay", 30*time.Second)
	v.SetDefault("notification.send_timeout", 15*time.Second)
	v.SetDefault("notification.smtp.port", 587)

	v.SetDefault("orders.strict_transitions", true)
	v.SetDefault("payments.strict_transitions", true)

	v.SetDefault("outbox.poll_interval", 2*time.Second)
	v.SetDefault("outbox.batch_size", 100)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "json")
	v.SetDefault("log.output_paths", []string{"stdout"})
}

// Load reads the YAML file at configPath. Every key can be overridden by an
// environment variable, e.g. STOREFRONT_DATABASE_DRIVER.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("storefront")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.IDGen.DatacenterID < 0 || c.IDGen.DatacenterID > 31 {
		errs = append(errs, fmt.Errorf("idgen.datacenter_id must be between 0 and 31, got %d", c.IDGen.DatacenterID))
	}
	if c.IDGen.WorkerID < 0 || c.IDGen.WorkerID > 31 {
		errs = append(errs, fmt.Errorf("idgen.worker_id must be between 0 and 31, got %d", c.IDGen.WorkerID))
	}
	if c.IDGen.ClaimFromEtcd && len(c.Etcd.Endpoints) == 0 {
		errs = append(errs, errors.New("idgen.claim_from_etcd requires etcd.endpoints"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}

	switch c.Database.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not supported", c.Database.Driver))
	}

	return errors.Join(errs...)
}

func (c *DatabaseConfig) DSN() string {
	switch c.Driver {
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.Username, c.Password, c.Database, c.SSLMode)
	case "sqlite":
		if c.Path == "" {
			return "file::memory:?cache=shared"
		}
		return c.Path
	default:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			c.Username, c.Password, c.Host, c.Port, c.Database)
	}
}
