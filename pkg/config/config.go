package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database        DatabaseConfig
	Redis           RedisConfig
	Kafka           KafkaConfig
	Gateway         GatewayConfig
	HTTP            HTTPConfig
	Weather         WeatherConfig
	Evaluation      EvaluationConfig
	Monitor         MonitorConfig
	Log             LogConfig
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers          []string
	TopicAlertStatus string
	GroupID          string
}

type GatewayConfig struct {
	Port              int
	MaxConnections    int
	IdentifyTimeout   time.Duration
	InactivityTimeout time.Duration
}

type HTTPConfig struct {
	Addr string
}

// WeatherConfig configures the upstream realtime weather provider.
type WeatherConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	BatchSize  int
	BatchDelay time.Duration
}

// EvaluationConfig controls the scheduled alert evaluation cycle.
type EvaluationConfig struct {
	Schedule    string // cron expression, evaluated in UTC
	TriggerHold time.Duration
}

// MonitorConfig controls the per-user location monitor cadence.
type MonitorConfig struct {
	Interval            time.Duration
	RateLimitedInterval time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	config := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "weather_user"),
			Password: getEnv("DB_PASSWORD", "weather_pass"),
			DBName:   getEnv("DB_NAME", "weather_alerts"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers:          parseList(getEnv("KAFKA_BROKERS", "localhost:9092")),
			TopicAlertStatus: getEnv("KAFKA_TOPIC_ALERT_STATUS", "weather.alert-status"),
			GroupID:          getEnv("KAFKA_GROUP_ID", "gateway-status-relay"),
		},
		Gateway: GatewayConfig{
			Port:              getEnvAsInt("TCP_PORT", 8080),
			MaxConnections:    getEnvAsInt("TCP_MAX_CONNECTIONS", 10000),
			IdentifyTimeout:   getEnvAsDuration("TCP_IDENTIFY_TIMEOUT", 10*time.Second),
			InactivityTimeout: getEnvAsDuration("TCP_INACTIVITY_TIMEOUT", 2*time.Minute),
		},
		HTTP: HTTPConfig{
			Addr: getEnv("HTTP_ADDR", ":8081"),
		},
		Weather: WeatherConfig{
			BaseURL:    getEnv("WEATHER_API_URL", "https://api.tomorrow.io/v4"),
			APIKey:     getEnv("WEATHER_API_KEY", ""),
			Timeout:    getEnvAsDuration("WEATHER_TIMEOUT", 10*time.Second),
			BatchSize:  getEnvAsInt("WEATHER_BATCH_SIZE", 5),
			BatchDelay: getEnvAsDuration("WEATHER_BATCH_DELAY", time.Second),
		},
		Evaluation: EvaluationConfig{
			Schedule:    getEnv("EVALUATION_SCHEDULE", "*/5 * * * *"),
			TriggerHold: getEnvAsDuration("EVALUATION_TRIGGER_HOLD", 2*time.Minute),
		},
		Monitor: MonitorConfig{
			Interval:            getEnvAsDuration("MONITOR_INTERVAL", 5*time.Minute),
			RateLimitedInterval: getEnvAsDuration("MONITOR_RATE_LIMITED_INTERVAL", 10*time.Minute),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) validate() error {
	if len(c.Kafka.Brokers) == 0 {
		return errors.New("KAFKA_BROKERS is required")
	}
	if c.Weather.BatchSize <= 0 {
		return errors.New("WEATHER_BATCH_SIZE must be positive")
	}
	if c.Weather.BatchDelay < 0 {
		return errors.New("WEATHER_BATCH_DELAY must not be negative")
	}
	if c.Evaluation.TriggerHold <= 0 {
		return errors.New("EVALUATION_TRIGGER_HOLD must be positive")
	}
	if c.Monitor.Interval <= 0 || c.Monitor.RateLimitedInterval <= 0 {
		return errors.New("monitor intervals must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func parseList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
