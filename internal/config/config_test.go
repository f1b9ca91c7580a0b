package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/receipt-capture/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("GCS_BUCKET", "receipts-bucket")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.App.Port)
	assert.Equal(t, "CNY", cfg.App.DefaultCurrency)
	assert.Equal(t, 5, cfg.App.Workers)
	assert.Equal(t, "pgx", cfg.DB.Driver)
	assert.Equal(t, 30*time.Second, cfg.Recognition.Timeout)
	assert.Equal(t, 2, cfg.Recognition.Retries)
	assert.Equal(t, 3, cfg.Pipeline.MaxJobRetries)
	assert.Equal(t, []string{"gemini-2.5-flash", "gemini-2.0-flash"}, cfg.Recognition.Models)
	assert.True(t, cfg.Normalize.AutoCrop)
	assert.InDelta(t, 0.85, cfg.Normalize.Quality, 1e-9)
	assert.Equal(t, 2048, cfg.Normalize.MaxDimension)
	assert.Equal(t, 2*1024*1024, cfg.Normalize.MaxBytes)
	assert.Equal(t, "postgres://postgres:@localhost:5432/receipts?sslmode=disable", cfg.DSN())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "memory")
	t.Setenv("DB_DRIVER", "sqlite3")
	t.Setenv("DB_PATH", ":memory:")
	t.Setenv("RECOGNITION_MODELS", "model-a, model-b")
	t.Setenv("WORKERS", "2")
	t.Setenv("MAX_JOB_RETRIES", "0")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Zero(t, cfg.Pipeline.MaxJobRetries)

	assert.Equal(t, ":memory:", cfg.DSN())
	assert.Equal(t, []string{"model-a", "model-b"}, cfg.Recognition.Models)
	assert.Equal(t, 2, cfg.App.Workers)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{
			name: "gcs without bucket",
			env:  map[string]string{"STORAGE_BACKEND": "gcs", "GCS_BUCKET": ""},
		},
		{
			name: "unknown driver",
			env:  map[string]string{"STORAGE_BACKEND": "memory", "DB_DRIVER": "mysql"},
		},
		{
			name: "firestore without project",
			env:  map[string]string{"STORAGE_BACKEND": "memory", "JOBS_STORE": "firestore"},
		},
		{
			name: "quality out of range",
			env:  map[string]string{"STORAGE_BACKEND": "memory", "NORMALIZE_QUALITY": "1.5"},
		},
		{
			name: "negative job retries",
			env:  map[string]string{"STORAGE_BACKEND": "memory", "MAX_JOB_RETRIES": "-1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := config.Load()
			assert.Error(t, err)
		})
	}
}
