package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	ModeWebhook = "webhook"
	ModePolling = "polling"
)

// Config is the root of config.yaml.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Refund   RefundConfig   `mapstructure:"refund"`
	Donation DonationConfig `mapstructure:"donation"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type TelegramConfig struct {
	Token          string        `mapstructure:"token"`
	APIURL         string        `mapstructure:"api_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	WebhookURL     string        `mapstructure:"webhook_url"`
	WebhookSecret  string        `mapstructure:"webhook_secret"`
	PollTimeout    int           `mapstructure:"poll_timeout"`
}

// LedgerConfig points at the persisted transaction id -> payer id mapping.
type LedgerConfig struct {
	Path string `mapstructure:"path"`
}

type RefundConfig struct {
	OperatorID     int64         `mapstructure:"operator_id"`
	SupportContact string        `mapstructure:"support_contact"`
	LockTTL        time.Duration `mapstructure:"lock_ttl"`
}

type DonationConfig struct {
	Amounts     []int  `mapstructure:"amounts"`
	Layout      []int  `mapstructure:"layout"`
	Title       string `mapstructure:"title"`
	Description string `mapstructure:"description"`
	Currency    string `mapstructure:"currency"`
}

type MySQLConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	Audit string `mapstructure:"audit"`
}

type BusinessConfig struct {
	MaxRetryCount  int           `mapstructure:"max_retry_count"`
	OutboxInterval time.Duration `mapstructure:"outbox_interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", ModePolling)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.api_url", "https://api.telegram.org")
	v.SetDefault("telegram.request_timeout", 10*time.Second)
	v.SetDefault("telegram.webhook_url", "")
	v.SetDefault("telegram.webhook_secret", "")
	v.SetDefault("telegram.poll_timeout", 30)

	v.SetDefault("ledger.path", "data/transactions.json")

	v.SetDefault("refund.operator_id", 0)
	v.SetDefault("refund.support_contact", "@support")
	v.SetDefault("refund.lock_ttl", 30*time.Second)

	v.SetDefault("donation.amounts", []int{15, 25, 50, 75, 100, 150, 250, 500, 1000, 2500})
	v.SetDefault("donation.layout", []int{3, 3, 2, 2})
	v.SetDefault("donation.title", "Support the project")
	v.SetDefault("donation.description", "Donation for the development of the project")
	v.SetDefault("donation.currency", "XTR")

	v.SetDefault("mysql.enabled", false)
	v.SetDefault("mysql.host", "127.0.0.1")
	v.SetDefault("mysql.port", 3306)
	v.SetDefault("mysql.user", "root")
	v.SetDefault("mysql.password", "")
	v.SetDefault("mysql.database", "donatebot")
	v.SetDefault("mysql.max_open_conns", 10)
	v.SetDefault("mysql.max_idle_conns", 5)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", []string{"127.0.0.1:9092"})
	v.SetDefault("kafka.topic.audit", "donatebot_audit")

	v.SetDefault("business.max_retry_count", 5)
	v.SetDefault("business.outbox_interval", time.Second)
}

// Load reads configPath (optional when empty or missing) and overlays the
// DONATEBOT_* environment. BOT_TOKEN is accepted for the bot token.
func Load(configPath string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("DONATEBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("telegram.token", "DONATEBOT_TELEGRAM_TOKEN", "BOT_TOKEN"); err != nil {
		return nil, fmt.Errorf("bind token env: %w", err)
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config %s: %w", configPath, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat config %s: %w", configPath, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// Validate checks the settings the bot cannot start without.
func (c *Config) Validate() error {
	if c.Telegram.Token == "" {
		return errors.New("telegram.token is required")
	}
	if c.Refund.OperatorID == 0 {
		return errors.New("refund.operator_id is required")
	}
	if c.Ledger.Path == "" {
		return errors.New("ledger.path is required")
	}
	if c.Server.Mode != ModeWebhook && c.Server.Mode != ModePolling {
		return fmt.Errorf("server.mode must be %q or %q, got %q", ModeWebhook, ModePolling, c.Server.Mode)
	}
	if c.Server.Mode == ModeWebhook {
		if c.Telegram.WebhookURL == "" {
			return errors.New("telegram.webhook_url is required in webhook mode")
		}
		// without it anyone reaching the port can post updates as any user
		if c.Telegram.WebhookSecret == "" {
			return errors.New("telegram.webhook_secret is required in webhook mode")
		}
	}
	if len(c.Donation.Amounts) == 0 {
		return errors.New("donation.amounts must not be empty")
	}
	for _, a := range c.Donation.Amounts {
		if a <= 0 {
			return fmt.Errorf("donation amount must be positive, got %d", a)
		}
	}
	total := 0
	for _, n := range c.Donation.Layout {
		if n <= 0 {
			return fmt.Errorf("donation.layout row size must be positive, got %d", n)
		}
		total += n
	}
	if total != len(c.Donation.Amounts) {
		return fmt.Errorf("donation.layout covers %d buttons, amounts has %d", total, len(c.Donation.Amounts))
	}
	return nil
}

// DSN builds the go-sql-driver DSN used by gorm.
func (c MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Database,
	)
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
