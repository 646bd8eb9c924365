package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Host     string `mapstructure:"DB_HOST"`
	User     string `mapstructure:"DB_USER"`
	Password string `mapstructure:"DB_PASSWORD"`
	Name     string `mapstructure:"DB_NAME"`
	DBPort   string `mapstructure:"DB_PORT"`
	SSLMode  string `mapstructure:"DB_SSLMODE"`

	ServerPort  string `mapstructure:"SERVER_PORT"`
	Environment string `mapstructure:"ENVIRONMENT"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	JWTKey      string `mapstructure:"JWT_KEY"`
	// AllowedOrigins через запятую; пусто означает любой origin для CORS
	AllowedOrigins string `mapstructure:"ALLOWED_ORIGINS"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic   string `mapstructure:"KAFKA_TOPIC"`

	S3Endpoint        string `mapstructure:"S3_ENDPOINT"`
	S3Region          string `mapstructure:"S3_REGION"`
	S3BucketName      string `mapstructure:"S3_BUCKET_NAME"`
	S3AccessKeyID     string `mapstructure:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `mapstructure:"S3_SECRET_ACCESS_KEY"`

	TypingTTL       time.Duration `mapstructure:"TYPING_TTL"`
	PresenceTimeout time.Duration `mapstructure:"PRESENCE_TIMEOUT"`
	OnlineWindow    time.Duration `mapstructure:"ONLINE_WINDOW"`
	TypingRPS       float64       `mapstructure:"TYPING_RPS"`
}

var defaults = map[string]any{
	"DB_SSLMODE":       "disable",
	"ENVIRONMENT":      "production",
	"LOG_LEVEL":        "info",
	"REDIS_DB":         0,
	"KAFKA_TOPIC":      "teamchat.broadcast",
	"S3_REGION":        "us-east-1",
	"TYPING_TTL":       3 * time.Second,
	"PRESENCE_TIMEOUT": 60 * time.Second,
	"ONLINE_WINDOW":    5 * time.Minute,
	"TYPING_RPS":       2.0,
}

var keys = []string{
	"DB_HOST", "DB_USER", "DB_PASSWORD", "DB_NAME", "DB_PORT", "DB_SSLMODE",
	"SERVER_PORT", "ENVIRONMENT", "LOG_LEVEL", "JWT_KEY", "ALLOWED_ORIGINS",
	"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB",
	"KAFKA_BROKERS", "KAFKA_TOPIC",
	"S3_ENDPOINT", "S3_REGION", "S3_BUCKET_NAME", "S3_ACCESS_KEY_ID", "S3_SECRET_ACCESS_KEY",
	"TYPING_TTL", "PRESENCE_TIMEOUT", "ONLINE_WINDOW", "TYPING_RPS",
}

// Load читает конфигурацию из .env (если он есть) и переменных окружения
func Load() (*Config, error) {
	return LoadFrom(".env")
}

// LoadFrom читает конфигурацию из указанного файла и окружения
func LoadFrom(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		// .env необязателен, в контейнере все приходит из окружения
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	required := []struct {
		key   string
		value string
	}{
		{"DB_USER", c.User},
		{"DB_PASSWORD", c.Password},
		{"DB_NAME", c.Name},
		{"DB_PORT", c.DBPort},
		{"DB_HOST", c.Host},
		{"SERVER_PORT", c.ServerPort},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%s is required", r.key)
		}
	}

	if c.TypingTTL <= 0 {
		return fmt.Errorf("TYPING_TTL must be positive")
	}
	if c.PresenceTimeout <= 0 {
		return fmt.Errorf("PRESENCE_TIMEOUT must be positive")
	}

	return nil
}

// DSN собирает строку подключения к PostgreSQL
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		c.Host, c.User, c.Password, c.Name, c.DBPort, c.SSLMode)
}

// Brokers возвращает список брокеров Kafka, пустой если Kafka не настроена
func (c *Config) Brokers() []string {
	return splitList(c.KafkaBrokers)
}

// Origins разрешенные origin для CORS и websocket
func (c *Config) Origins() []string {
	return splitList(c.AllowedOrigins)
}

func splitList(raw string) []string {
	var items []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}
