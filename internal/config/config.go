// Package config loads the cordontrips configuration from a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/cordontrips/cordontrips/internal/database"
	"github.com/cordontrips/cordontrips/internal/source"
	"github.com/cordontrips/cordontrips/internal/telemetry"
)

// Defaults.
const (
	DefaultCRS           = "EPSG:5677"
	DefaultMode          = "car"
	DefaultLandmarks     = 8
	DefaultProgressEvery = 100
	DefaultAPIPort       = 8080
	DefaultRateLimit     = 100
)

// ErrMissingInputs is returned by RequireInputs when an input URI is unset.
var ErrMissingInputs = errors.New("missing required inputs")

// Config is the complete application configuration.
type Config struct {
	// Inputs are only required for one-shot extraction; API and worker runs
	// take them from the run request.
	Inputs Inputs `yaml:"inputs" validate:"-"`

	// CRS every coordinate in the inputs is expected to use.
	CRS string `yaml:"crs" validate:"required"`

	// Mode links must allow to be routable.
	Mode string `yaml:"mode" validate:"required"`

	// Workers routing concurrently. Zero means GOMAXPROCS.
	Workers int `yaml:"workers" validate:"min=0,max=256"`

	// Landmarks for the routing heuristic. Zero disables them.
	Landmarks int `yaml:"landmarks" validate:"min=0,max=64"`

	// DepartureDefault in seconds for trips without a departure time.
	DepartureDefault float64 `yaml:"departure_default" validate:"min=0"`

	ProgressEvery int    `yaml:"progress_every" validate:"min=1"`
	LogLevel      string `yaml:"log_level" validate:"omitempty,oneof=trace debug info warn error"`

	Sources   SourcesConfig    `yaml:"sources"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	Database  database.Config  `yaml:"database"`
	PubSub    PubSubConfig     `yaml:"pubsub"`
	API       APIConfig        `yaml:"api"`
}

// Inputs locates the files for one extraction.
type Inputs struct {
	Plans   string `yaml:"plans" validate:"required"`
	Network string `yaml:"network" validate:"required"`
	Region  string `yaml:"region" validate:"required"`
	Output  string `yaml:"output" validate:"required"`
}

// SourcesConfig limits the locations API-submitted runs may read and write.
type SourcesConfig struct {
	// DataRoot holds every local input and output. Empty means the working
	// directory.
	DataRoot string `yaml:"data_root"`

	// AllowedHosts may serve remote inputs. "*.example.org" admits
	// subdomains. Empty refuses remote inputs.
	AllowedHosts []string `yaml:"allowed_hosts"`
}

// Policy returns the location policy for request-supplied URIs.
func (c SourcesConfig) Policy() source.Policy {
	return source.Policy{DataRoot: c.DataRoot, AllowedHosts: c.AllowedHosts}
}

// PubSubConfig holds the extraction job queue settings.
type PubSubConfig struct {
	ProjectID    string `yaml:"project_id"`
	Topic        string `yaml:"topic"`
	Subscription string `yaml:"subscription"`
}

// Enabled reports whether a project is configured.
func (c PubSubConfig) Enabled() bool {
	return c.ProjectID != ""
}

// APIConfig holds HTTP server settings.
type APIConfig struct {
	Port int `yaml:"port" validate:"min=1,max=65535"`

	// JWTSigningKey verifies service tokens. Empty disables authentication.
	JWTSigningKey string `yaml:"jwt_signing_key"`

	// RateLimit is the number of requests per minute per client.
	RateLimit int `yaml:"rate_limit" validate:"min=0"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		CRS:           DefaultCRS,
		Mode:          DefaultMode,
		Landmarks:     DefaultLandmarks,
		ProgressEvery: DefaultProgressEvery,
		LogLevel:      "info",
		Telemetry: telemetry.Config{
			Environment:  "development",
			OTLPEndpoint: "localhost:4317",
		},
		API: APIConfig{
			Port:      DefaultAPIPort,
			RateLimit: DefaultRateLimit,
		},
	}
}

// Load reads path (when non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // config path is operator-provided
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the struct tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// RequireInputs checks that all four input locations are set.
func (c *Config) RequireInputs() error {
	err := validator.New().Struct(c.Inputs)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		missing := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			missing = append(missing, strings.ToLower(fe.Field()))
		}
		return fmt.Errorf("%w: %s", ErrMissingInputs, strings.Join(missing, ", "))
	}
	return err
}

func (c *Config) applyEnv() {
	c.Inputs.Plans = getEnvOrDefault("CORDON_PLANS", c.Inputs.Plans)
	c.Inputs.Network = getEnvOrDefault("CORDON_NETWORK", c.Inputs.Network)
	c.Inputs.Region = getEnvOrDefault("CORDON_REGION", c.Inputs.Region)
	c.Inputs.Output = getEnvOrDefault("CORDON_OUTPUT", c.Inputs.Output)
	c.CRS = getEnvOrDefault("CORDON_CRS", c.CRS)
	c.Mode = getEnvOrDefault("CORDON_MODE", c.Mode)
	c.Workers = getEnvInt("CORDON_WORKERS", c.Workers)
	c.Landmarks = getEnvInt("CORDON_LANDMARKS", c.Landmarks)
	c.LogLevel = getEnvOrDefault("LOG_LEVEL", c.LogLevel)

	c.Sources.DataRoot = getEnvOrDefault("CORDON_DATA_ROOT", c.Sources.DataRoot)
	if v := os.Getenv("CORDON_ALLOWED_HOSTS"); v != "" {
		c.Sources.AllowedHosts = splitList(v)
	}

	c.Telemetry.Environment = getEnvOrDefault("APP_ENV", c.Telemetry.Environment)
	c.Telemetry.OTLPEndpoint = getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", c.Telemetry.OTLPEndpoint)
	if v := os.Getenv("OTEL_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true"
	}

	c.Database.Host = getEnvOrDefault("DB_HOST", c.Database.Host)
	if c.Database.Enabled() {
		env := database.ConfigFromEnv()
		c.Database.Port = getEnvInt("DB_PORT", orInt(c.Database.Port, env.Port))
		c.Database.User = getEnvOrDefault("DB_USER", orString(c.Database.User, env.User))
		c.Database.Password = getEnvOrDefault("DB_PASSWORD", orString(c.Database.Password, env.Password))
		c.Database.Database = getEnvOrDefault("DB_NAME", orString(c.Database.Database, env.Database))
		c.Database.SSLMode = getEnvOrDefault("DB_SSL_MODE", orString(c.Database.SSLMode, env.SSLMode))
		c.Database.MaxOpenConns = orInt(c.Database.MaxOpenConns, env.MaxOpenConns)
		c.Database.MaxIdleConns = orInt(c.Database.MaxIdleConns, env.MaxIdleConns)
		if c.Database.ConnMaxLifetime == 0 {
			c.Database.ConnMaxLifetime = env.ConnMaxLifetime
		}
	}

	c.PubSub.ProjectID = getEnvOrDefault("PUBSUB_PROJECT_ID", c.PubSub.ProjectID)
	c.PubSub.Topic = getEnvOrDefault("PUBSUB_TOPIC", c.PubSub.Topic)
	c.PubSub.Subscription = getEnvOrDefault("PUBSUB_SUBSCRIPTION", c.PubSub.Subscription)

	c.API.Port = getEnvInt("APP_PORT", c.API.Port)
	c.API.JWTSigningKey = getEnvOrDefault("JWT_SIGNING_KEY", c.API.JWTSigningKey)
	c.API.RateLimit = getEnvInt("API_RATE_LIMIT", c.API.RateLimit)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func orInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func orString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
