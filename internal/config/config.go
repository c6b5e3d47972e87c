package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP    HTTPConfig    `yaml:"http"`
	Store   StoreConfig   `yaml:"store"`
	Auth    AuthConfig    `yaml:"auth"`
	Admin   AdminConfig   `yaml:"admin"`
	Kafka   KafkaConfig   `yaml:"kafka"`
	Audit   AuditConfig   `yaml:"audit"`
	Logging LoggingConfig `yaml:"logging"`

	// TimeZone is the location estimated deliveries are pinned in.
	TimeZone        string        `yaml:"time_zone"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type HTTPConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
	// LenientRead restores the legacy behavior of treating unreadable store
	// files as empty.
	LenientRead bool `yaml:"lenient_read"`
	Watch       bool `yaml:"watch"`
}

type AuthConfig struct {
	JWTSecret    string        `yaml:"jwt_secret"`
	TokenTTL     time.Duration `yaml:"token_ttl"`
	PublicAccess bool          `yaml:"public_access"`
	AllowSignup  bool          `yaml:"allow_signup"`
}

// AdminConfig describes the account seeded into a freshly created store.
type AdminConfig struct {
	Email     string `yaml:"email"`
	Password  string `yaml:"password"`
	FirstName string `yaml:"first_name"`
	LastName  string `yaml:"last_name"`
}

type KafkaConfig struct {
	Brokers     []string `yaml:"brokers"`
	EventsTopic string   `yaml:"events_topic"`
	AuditTopic  string   `yaml:"audit_topic"`
}

type AuditConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Workers      int           `yaml:"workers"`
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

const defaultJWTSecret = "cargotrack-dev-secret"

func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Port:         9000,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Path:  filepath.Join("data", "store.json"),
			Watch: true,
		},
		Auth: AuthConfig{
			JWTSecret:   defaultJWTSecret,
			TokenTTL:    24 * time.Hour,
			AllowSignup: true,
		},
		Admin: AdminConfig{
			Email:     "admin@cargotrack.local",
			Password:  "admin123",
			FirstName: "System",
			LastName:  "Administrator",
		},
		Kafka: KafkaConfig{
			EventsTopic: "order_events",
			AuditTopic:  "audit_logs",
		},
		Audit: AuditConfig{
			Enabled:      true,
			Workers:      2,
			BatchSize:    5,
			BatchTimeout: 500 * time.Millisecond,
		},
		Logging:         LoggingConfig{Level: "info"},
		TimeZone:        "Local",
		ShutdownTimeout: 30 * time.Second,
	}
}

// LoadEnv loads the first .env found in the working directory or up to two
// levels above it, falling back to .example.env. A missing file is not an
// error. It returns the loaded path, if any.
func LoadEnv() string {
	wd, err := os.Getwd()
	if err != nil {
		return ""
	}
	dirs := []string{wd, filepath.Join(wd, ".."), filepath.Join(wd, "..", "..")}

	for _, name := range []string{".env", ".example.env"} {
		for _, dir := range dirs {
			path := filepath.Join(dir, name)
			if err := godotenv.Load(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// Load builds the configuration: defaults, then the YAML file named by
// CONFIG_FILE, then environment variables.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
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

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var errs []string
	setString := func(name string, dst *string) {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			*dst = v
		}
	}
	setInt := func(name string, dst *int) {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", name, err))
				return
			}
			*dst = n
		}
	}
	setBool := func(name string, dst *bool) {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", name, err))
				return
			}
			*dst = b
		}
	}
	setDuration := func(name string, dst *time.Duration) {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", name, err))
				return
			}
			*dst = d
		}
	}

	setInt("HTTP_PORT", &c.HTTP.Port)
	setDuration("HTTP_READ_TIMEOUT", &c.HTTP.ReadTimeout)
	setDuration("HTTP_WRITE_TIMEOUT", &c.HTTP.WriteTimeout)

	setString("STORE_PATH", &c.Store.Path)
	setBool("STORE_LENIENT_READ", &c.Store.LenientRead)
	setBool("STORE_WATCH", &c.Store.Watch)

	setString("JWT_SECRET", &c.Auth.JWTSecret)
	setDuration("JWT_TTL", &c.Auth.TokenTTL)
	setBool("PUBLIC_ACCESS", &c.Auth.PublicAccess)
	setBool("ALLOW_SIGNUP", &c.Auth.AllowSignup)

	setString("ADMIN_EMAIL", &c.Admin.Email)
	setString("ADMIN_PASSWORD", &c.Admin.Password)
	setString("ADMIN_FIRST_NAME", &c.Admin.FirstName)
	setString("ADMIN_LAST_NAME", &c.Admin.LastName)

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	setString("KAFKA_EVENTS_TOPIC", &c.Kafka.EventsTopic)
	setString("KAFKA_AUDIT_TOPIC", &c.Kafka.AuditTopic)

	setBool("AUDIT_ENABLED", &c.Audit.Enabled)
	setInt("AUDIT_WORKERS", &c.Audit.Workers)
	setInt("AUDIT_BATCH_SIZE", &c.Audit.BatchSize)
	setDuration("AUDIT_BATCH_TIMEOUT", &c.Audit.BatchTimeout)

	setString("LOG_LEVEL", &c.Logging.Level)
	setString("TIMEZONE", &c.TimeZone)
	setDuration("SHUTDOWN_TIMEOUT", &c.ShutdownTimeout)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) Validate() error {
	switch {
	case c.HTTP.Port <= 0 || c.HTTP.Port > 65535:
		return fmt.Errorf("invalid http port %d", c.HTTP.Port)
	case strings.TrimSpace(c.Store.Path) == "":
		return fmt.Errorf("store path is required")
	case !c.Auth.PublicAccess && c.Auth.JWTSecret == "":
		return fmt.Errorf("jwt secret is required unless public access is enabled")
	case c.Auth.TokenTTL <= 0:
		return fmt.Errorf("token ttl must be positive")
	case c.Audit.Workers < 1 || c.Audit.BatchSize < 1:
		return fmt.Errorf("audit workers and batch size must be positive")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// UsesDefaultSecret reports whether the built-in development secret is in use.
func (c *Config) UsesDefaultSecret() bool {
	return c.Auth.JWTSecret == defaultJWTSecret
}

func (c *Config) Location() (*time.Location, error) {
	if c.TimeZone == "" || strings.EqualFold(c.TimeZone, "Local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("invalid time zone %q: %w", c.TimeZone, err)
	}
	return loc, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTP.Port)
}
