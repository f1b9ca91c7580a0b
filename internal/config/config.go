package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App struct {
		Name            string `envconfig:"APP_NAME" default:"receipt-capture"`
		Port            int    `envconfig:"PORT" default:"8080"`
		LogLevel        string `envconfig:"LOG_LEVEL" default:"info"`
		LogFormat       string `envconfig:"LOG_FORMAT" default:"console"`
		DefaultCurrency string `envconfig:"DEFAULT_CURRENCY" default:"CNY"`
		Workers         int    `envconfig:"WORKERS" default:"5"`
		QueueSize       int    `envconfig:"QUEUE_SIZE" default:"100"`
		CORSOrigins     string `envconfig:"CORS_ORIGINS" default:"*"`
	}

	DB struct {
		Driver   string `envconfig:"DB_DRIVER" default:"pgx"`
		Host     string `envconfig:"DB_HOST" default:"localhost"`
		Port     int    `envconfig:"DB_PORT" default:"5432"`
		User     string `envconfig:"DB_USER" default:"postgres"`
		Password string `envconfig:"DB_PASSWORD" default:""`
		Name     string `envconfig:"DB_NAME" default:"receipts"`
		// Path is used by the sqlite3 driver.
		Path string `envconfig:"DB_PATH" default:"receipts.db"`
	}

	Storage struct {
		Backend  string `envconfig:"STORAGE_BACKEND" default:"gcs"`
		Bucket   string `envconfig:"GCS_BUCKET"`
		Endpoint string `envconfig:"GCS_ENDPOINT"`
		Retries  int    `envconfig:"STORAGE_RETRIES" default:"2"`
	}

	Recognition struct {
		Models     []string      `envconfig:"RECOGNITION_MODELS" default:"gemini-2.5-flash,gemini-2.0-flash"`
		APIVersion string        `envconfig:"RECOGNITION_API_VERSION" default:"v1"`
		Vertex     bool          `envconfig:"RECOGNITION_USE_VERTEX" default:"false"`
		Project    string        `envconfig:"GOOGLE_CLOUD_PROJECT"`
		Location   string        `envconfig:"GOOGLE_CLOUD_LOCATION" default:"us-central1"`
		APIKey     string        `envconfig:"GEMINI_API_KEY"`
		Timeout    time.Duration `envconfig:"RECOGNITION_TIMEOUT" default:"30s"`
		Retries    int           `envconfig:"RECOGNITION_RETRIES" default:"2"`
		Backoff    time.Duration `envconfig:"RECOGNITION_BACKOFF" default:"1s"`
	}

	Normalize struct {
		AutoCrop     bool    `envconfig:"NORMALIZE_AUTO_CROP" default:"true"`
		Quality      float64 `envconfig:"NORMALIZE_QUALITY" default:"0.85"`
		MaxDimension int     `envconfig:"NORMALIZE_MAX_DIMENSION" default:"2048"`
		MaxBytes     int     `envconfig:"NORMALIZE_MAX_BYTES" default:"2097152"`
	}

	Pipeline struct {
		StaleAfter    time.Duration `envconfig:"STALE_AFTER" default:"15m"`
		SweepInterval time.Duration `envconfig:"SWEEP_INTERVAL" default:"1m"`
		MaxJobRetries int           `envconfig:"MAX_JOB_RETRIES" default:"3"`
	}

	Jobs struct {
		Store      string `envconfig:"JOBS_STORE" default:"memory"`
		Project    string `envconfig:"FIRESTORE_PROJECT"`
		Collection string `envconfig:"JOBS_COLLECTION" default:"receipt_jobs"`
	}

	Audit struct {
		Enabled bool   `envconfig:"AUDIT_ENABLED" default:"false"`
		Project string `envconfig:"BIGQUERY_PROJECT"`
		Dataset string `envconfig:"BIGQUERY_DATASET" default:"receipts"`
		Table   string `envconfig:"BIGQUERY_TABLE" default:"model_outputs"`
	}

	Auth struct {
		JWTSecret string `envconfig:"JWT_SECRET"`
	}
}

// DSN returns the data source name for the configured driver.
func (c *Config) DSN() string {
	if c.DB.Driver == "sqlite3" {
		return c.DB.Path
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DB.User, c.DB.Password),
		Host:     fmt.Sprintf("%s:%d", c.DB.Host, c.DB.Port),
		Path:     c.DB.Name,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// Validate checks combinations envconfig cannot express.
func (c *Config) Validate() error {
	switch c.DB.Driver {
	case "pgx", "sqlite3":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DB.Driver)
	}

	switch c.Storage.Backend {
	case "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("GCS_BUCKET is required for the gcs storage backend")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported STORAGE_BACKEND %q", c.Storage.Backend)
	}

	switch c.Jobs.Store {
	case "memory":
	case "firestore":
		if c.Jobs.Project == "" {
			return fmt.Errorf("FIRESTORE_PROJECT is required for the firestore job store")
		}
	default:
		return fmt.Errorf("unsupported JOBS_STORE %q", c.Jobs.Store)
	}

	if c.Audit.Enabled && c.Audit.Project == "" {
		return fmt.Errorf("BIGQUERY_PROJECT is required when AUDIT_ENABLED is set")
	}

	if len(c.Recognition.Models) == 0 {
		return fmt.Errorf("RECOGNITION_MODELS must list at least one model")
	}
	for i, m := range c.Recognition.Models {
		c.Recognition.Models[i] = strings.TrimSpace(m)
	}

	if c.Normalize.Quality <= 0 || c.Normalize.Quality > 1 {
		return fmt.Errorf("NORMALIZE_QUALITY must be in (0, 1], got %v", c.Normalize.Quality)
	}

	if c.App.Workers < 1 {
		return fmt.Errorf("WORKERS must be positive, got %d", c.App.Workers)
	}

	if c.Pipeline.MaxJobRetries < 0 {
		return fmt.Errorf("MAX_JOB_RETRIES must not be negative, got %d", c.Pipeline.MaxJobRetries)
	}

	return nil
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}
