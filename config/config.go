package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix scopes environment overrides, e.g. STAGEBOOK_GATEWAY_SECRET_KEY.
const EnvPrefix = "STAGEBOOK"

type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	GRPC     GRPCConfig     `yaml:"grpc"`
	Storage  StorageConfig  `yaml:"storage"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq" envconfig:"rabbitmq"`
	Fanout   FanoutConfig   `yaml:"fanout"`
	Auth     AuthConfig     `yaml:"auth"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Booking  BookingConfig  `yaml:"booking"`
	Worker   WorkerConfig   `yaml:"worker"`
	Log      LogConfig      `yaml:"log"`
	Tracing  TracingConfig  `yaml:"tracing"`
}

type HTTPConfig struct {
	Address    string `yaml:"address"`
	SwaggerDir string `yaml:"swagger_dir" envconfig:"swagger_dir"`
}

type GRPCConfig struct {
	Address string `yaml:"address"`
}

type StorageConfig struct {
	// Driver is postgres or memory.
	Driver string `yaml:"driver"`
	// SeedPerformers are approved performer ids loaded into the memory store.
	SeedPerformers []string `yaml:"seed_performers" envconfig:"seed_performers"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode" envconfig:"ssl_mode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s", d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type RedisConfig struct {
	Addr          string        `yaml:"addr"`
	Password      string        `yaml:"password"`
	DB            int           `yaml:"db"`
	PerformersTTL time.Duration `yaml:"performers_ttl" envconfig:"performers_ttl"`
}

type KafkaConfig struct {
	Brokers            []string `yaml:"brokers"`
	NotificationsTopic string   `yaml:"notifications_topic" envconfig:"notifications_topic"`
	GroupID            string   `yaml:"group_id" envconfig:"group_id"`
}

type RabbitMQConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

type FanoutConfig struct {
	// Broker is kafka, rabbitmq or none.
	Broker           string        `yaml:"broker"`
	QueueSize        int           `yaml:"queue_size" envconfig:"queue_size"`
	PublishTimeout   time.Duration `yaml:"publish_timeout" envconfig:"publish_timeout"`
	SubscriberBuffer int           `yaml:"subscriber_buffer" envconfig:"subscriber_buffer"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" envconfig:"jwt_secret"`
}

type GatewayConfig struct {
	PublicKey     string        `yaml:"public_key" envconfig:"public_key"`
	SecretKey     string        `yaml:"secret_key" envconfig:"secret_key"`
	WebhookSecret string        `yaml:"webhook_secret" envconfig:"webhook_secret"`
	Currency      string        `yaml:"currency"`
	SourceType    string        `yaml:"source_type" envconfig:"source_type"`
	ReturnURI     string        `yaml:"return_uri" envconfig:"return_uri"`
	Timeout       time.Duration `yaml:"timeout"`
}

type BookingConfig struct {
	DedupWindow      time.Duration `yaml:"dedup_window" envconfig:"dedup_window"`
	ReconcileRetries int           `yaml:"reconcile_retries" envconfig:"reconcile_retries"`
}

type WorkerConfig struct {
	SweepInterval   time.Duration `yaml:"sweep_interval" envconfig:"sweep_interval"`
	StaleIntentAge  time.Duration `yaml:"stale_intent_age" envconfig:"stale_intent_age"`
	CompleteElapsed bool          `yaml:"complete_elapsed" envconfig:"complete_elapsed"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name" envconfig:"service_name"`
}

// LoadConfig reads the YAML file at path, loads .env if present and applies
// STAGEBOOK_* environment overrides on top.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to apply env overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Default() *Config {
	return &Config{
		HTTP:     HTTPConfig{Address: ":8080", SwaggerDir: "api/openapi"},
		GRPC:     GRPCConfig{Address: ":9090"},
		Storage:  StorageConfig{Driver: "postgres"},
		Database: DatabaseConfig{Host: "localhost", Port: 5432, User: "stagebook", Name: "stagebook", SSLMode: "disable"},
		Redis:    RedisConfig{PerformersTTL: time.Minute},
		Kafka:    KafkaConfig{NotificationsTopic: "stagebook.notifications", GroupID: "stagebook-worker"},
		RabbitMQ: RabbitMQConfig{Exchange: "stagebook.notifications"},
		Fanout:   FanoutConfig{Broker: "none", QueueSize: 1024, PublishTimeout: 5 * time.Second, SubscriberBuffer: 16},
		Gateway:  GatewayConfig{Currency: "thb", SourceType: "promptpay", Timeout: 10 * time.Second},
		Booking:  BookingConfig{DedupWindow: 72 * time.Hour, ReconcileRetries: 3},
		Worker:   WorkerConfig{SweepInterval: 5 * time.Minute, StaleIntentAge: 30 * time.Minute, CompleteElapsed: true},
		Log:      LogConfig{Level: "info", Format: "json"},
		Tracing:  TracingConfig{Endpoint: "localhost:4317", ServiceName: "stagebook"},
	}
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case "postgres", "memory":
	default:
		errs = append(errs, fmt.Errorf("storage.driver must be postgres or memory, got %q", c.Storage.Driver))
	}
	switch c.Fanout.Broker {
	case "kafka":
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, errors.New("kafka.brokers is required for the kafka fanout"))
		}
	case "rabbitmq":
		if c.RabbitMQ.URL == "" {
			errs = append(errs, errors.New("rabbitmq.url is required for the rabbitmq fanout"))
		}
	case "none", "":
	default:
		errs = append(errs, fmt.Errorf("fanout.broker must be kafka, rabbitmq or none, got %q", c.Fanout.Broker))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	if c.Gateway.Timeout <= 0 {
		errs = append(errs, errors.New("gateway.timeout must be positive"))
	}
	if c.Worker.SweepInterval <= 0 {
		errs = append(errs, errors.New("worker.sweep_interval must be positive"))
	}
	if c.Booking.ReconcileRetries < 1 {
		errs = append(errs, errors.New("booking.reconcile_retries must be at least 1"))
	}
	return errors.Join(errs...)
}
