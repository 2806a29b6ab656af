package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	notifications "safety-cloud/internal/notifications/domain"
)

// Push gateway kinds.
const (
	GatewayFCM     = "fcm"
	GatewayWebhook = "webhook"
	GatewayNone    = "none"
)

// Config is the process configuration.
type Config struct {
	DatabaseURL string    `yaml:"database_url"`
	HTTPAddr    string    `yaml:"http_addr"`
	Auth        Auth      `yaml:"auth"`
	Push        Push      `yaml:"push"`
	Redis       Redis     `yaml:"redis"`
	Kafka       Kafka     `yaml:"kafka"`
	Log         Log       `yaml:"log"`
	Contents    []Content `yaml:"contents"`

	NotifyTimeout time.Duration `yaml:"notify_timeout"`
}

// Auth holds recipient JWT and ingest signature settings. Secrets are read
// from the environment only.
type Auth struct {
	JWTSecret     string        `yaml:"-"`
	IngestSecret  string        `yaml:"-"`
	IngestMaxSkew time.Duration `yaml:"ingest_max_skew"`
}

// Push selects and configures the push gateway.
type Push struct {
	Gateway         string `yaml:"gateway"`
	WebhookURL      string `yaml:"webhook_url"`
	ProjectID       string `yaml:"firebase_project_id"`
	ClientEmail     string `yaml:"firebase_client_email"`
	PrivateKey      string `yaml:"-"`
	CredentialsFile string `yaml:"firebase_credentials_file"`
}

// Redis configures the dispatch claim store. Empty Addr disables it.
type Redis struct {
	Addr     string        `yaml:"addr"`
	ClaimTTL time.Duration `yaml:"claim_ttl"`
}

// Kafka configures the lifecycle event producer. Empty Brokers disables it.
type Kafka struct {
	Brokers       string `yaml:"brokers"`
	IncidentTopic string `yaml:"incident_topic"`
}

// Log configures the zap logger.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Content overrides the seeded notification content of one incident type.
type Content struct {
	Type  string `yaml:"type"`
	Title string `yaml:"title"`
	Body  string `yaml:"body"`
}

// Load reads defaults, then the optional SAFETY_CONFIG yaml file, then
// environment variables. Set environment variables win over the file.
func Load() (Config, error) {
	cfg := Config{
		HTTPAddr:      ":8080",
		NotifyTimeout: 30 * time.Second,
		Auth:          Auth{IngestMaxSkew: 300 * time.Second},
		Push:          Push{Gateway: GatewayFCM},
		Redis:         Redis{ClaimTTL: 24 * time.Hour},
		Kafka:         Kafka{IncidentTopic: "safety.incidents"},
		Log:           Log{Level: "info", Format: "json"},
	}

	if path := os.Getenv("SAFETY_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.DatabaseURL = getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", cfg.DatabaseURL))
	cfg.HTTPAddr = getenvDefault("HTTP_ADDR", cfg.HTTPAddr)
	cfg.Auth.JWTSecret = getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", ""))
	cfg.Auth.IngestSecret = os.Getenv("INGEST_HMAC_SECRET")
	if seconds := getenvIntDefault("INGEST_MAX_SKEW_SECONDS", -1); seconds >= 0 {
		cfg.Auth.IngestMaxSkew = time.Duration(seconds) * time.Second
	}
	cfg.Push.Gateway = strings.ToLower(getenvDefault("PUSH_GATEWAY", cfg.Push.Gateway))
	cfg.Push.WebhookURL = getenvDefault("PUSH_WEBHOOK_URL", cfg.Push.WebhookURL)
	cfg.Push.ProjectID = getenvDefault("FIREBASE_PROJECT_ID", cfg.Push.ProjectID)
	cfg.Push.ClientEmail = getenvDefault("FIREBASE_CLIENT_EMAIL", cfg.Push.ClientEmail)
	cfg.Push.PrivateKey = unescapeNewlines(os.Getenv("FIREBASE_PRIVATE_KEY"))
	cfg.Push.CredentialsFile = getenvDefault("GOOGLE_APPLICATION_CREDENTIALS", cfg.Push.CredentialsFile)
	cfg.NotifyTimeout = getenvDuration("NOTIFY_TIMEOUT", cfg.NotifyTimeout)
	cfg.Redis.Addr = getenvDefault("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.ClaimTTL = getenvDuration("DISPATCH_CLAIM_TTL", cfg.Redis.ClaimTTL)
	cfg.Kafka.Brokers = getenvDefault("KAFKA_BROKERS", cfg.Kafka.Brokers)
	cfg.Kafka.IncidentTopic = getenvDefault("KAFKA_INCIDENT_TOPIC", cfg.Kafka.IncidentTopic)
	cfg.Log.Level = getenvDefault("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getenvDefault("LOG_FORMAT", cfg.Log.Format)

	return cfg, cfg.Validate()
}

// Validate reports missing required keys and inconsistent gateway settings.
func (c Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL or PG_DSN is required"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("AUTH_JWT_SECRET is required"))
	}
	if c.NotifyTimeout <= 0 {
		errs = append(errs, errors.New("NOTIFY_TIMEOUT must be positive"))
	}
	switch c.Push.Gateway {
	case GatewayFCM:
		if c.Push.CredentialsFile == "" && (c.Push.ProjectID == "" || c.Push.ClientEmail == "" || c.Push.PrivateKey == "") {
			errs = append(errs, errors.New("fcm gateway needs FIREBASE_PROJECT_ID, FIREBASE_CLIENT_EMAIL and FIREBASE_PRIVATE_KEY or a credentials file"))
		}
	case GatewayWebhook:
		if c.Push.WebhookURL == "" {
			errs = append(errs, errors.New("webhook gateway needs PUSH_WEBHOOK_URL"))
		}
	case GatewayNone:
	default:
		errs = append(errs, fmt.Errorf("unknown PUSH_GATEWAY %q", c.Push.Gateway))
	}
	if c.Kafka.Brokers != "" && c.Kafka.IncidentTopic == "" {
		errs = append(errs, errors.New("KAFKA_INCIDENT_TOPIC is required when KAFKA_BROKERS is set"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// NotificationContents merges yaml overrides into the default contents.
// Overrides for unknown types are appended.
func (c Config) NotificationContents() []notifications.Content {
	contents := notifications.DefaultContents()
	index := make(map[string]int, len(contents))
	for i, content := range contents {
		index[content.Key] = i
	}
	for _, override := range c.Contents {
		key := strings.TrimSpace(override.Type)
		if key == "" {
			continue
		}
		i, ok := index[key]
		if !ok {
			index[key] = len(contents)
			contents = append(contents, notifications.Content{Key: key, Title: override.Title, Body: override.Body})
			continue
		}
		if override.Title != "" {
			contents[i].Title = override.Title
		}
		if override.Body != "" {
			contents[i].Body = override.Body
		}
	}
	return contents
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// unescapeNewlines restores PEM line breaks flattened into a single env line.
func unescapeNewlines(value string) string {
	return strings.ReplaceAll(value, `\n`, "\n")
}
