package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 9090
  host: "0.0.0.0"

database:
  url: "postgres://localhost/dealfinder_test?sslmode=disable"

corpus:
  snapshot_path: "./test-data/snapshot.json"

archive:
  backend: "s3"
  s3_bucket: "dealfinder-archive"
  s3_prefix: "snapshots/"

scheduler:
  check_interval_hours: 6
  jitter_max_minutes: 2
  max_concurrent_checks: 4
  check_timeout_seconds: 30
  lock_ttl_seconds: 45

crm:
  base_url: "https://crm.example.com/v1"
  api_key: "test-crm-key"
  pipeline_id: "pipe-7"
  stage_id: "stage-new"
  field_mapping:
    deal_score: "cf_deal_score"
    property_address: "cf_address"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	// Test server config
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)

	// Test database config
	assert.Equal(t, "postgres://localhost/dealfinder_test?sslmode=disable", cfg.Database.URL)

	// Test corpus + archive config
	assert.Equal(t, "./test-data/snapshot.json", cfg.Corpus.SnapshotPath)
	assert.Equal(t, "s3", cfg.Archive.Backend)
	assert.Equal(t, "dealfinder-archive", cfg.Archive.S3Bucket)

	// Test scheduler config
	assert.Equal(t, 6, cfg.Scheduler.CheckIntervalHours)
	assert.Equal(t, 2, cfg.Scheduler.JitterMaxMinutes)
	assert.Equal(t, 4, cfg.Scheduler.MaxConcurrentChecks)
	assert.Equal(t, 30, cfg.Scheduler.CheckTimeoutSeconds)

	// Test CRM config
	assert.Equal(t, "https://crm.example.com/v1", cfg.CRM.BaseURL)
	assert.Equal(t, "test-crm-key", cfg.CRM.APIKey)
	assert.Equal(t, "pipe-7", cfg.CRM.PipelineID)
	assert.Equal(t, "cf_deal_score", cfg.CRM.FieldMapping["deal_score"])
	assert.Equal(t, "cf_address", cfg.CRM.FieldMapping["property_address"])
}

func TestLoadDefaults(t *testing.T) {
	// Create a minimal config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
crm:
  api_key: "test-key"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	// Verify defaults are applied
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, "local", cfg.Archive.Backend)
	assert.Equal(t, "data/archive", cfg.Archive.LocalDir)
	assert.Equal(t, 4, cfg.Scheduler.CheckIntervalHours)
	assert.Equal(t, 5, cfg.Scheduler.JitterMaxMinutes)
	assert.Equal(t, 8, cfg.Scheduler.MaxConcurrentChecks)
	assert.Equal(t, 60, cfg.Scheduler.CheckTimeoutSeconds)
	assert.Equal(t, 90, cfg.Scheduler.LockTTLSeconds)
	assert.Equal(t, 10, cfg.CRM.TimeoutSeconds)
	assert.Equal(t, 4, cfg.CRM.MaxParallel)

	// Default field mapping is installed when none is configured
	assert.Equal(t, "customDealScore", cfg.CRM.FieldMapping["deal_score"])
	assert.Equal(t, "customEstimatedArv", cfg.CRM.FieldMapping["estimated_arv"])
}

func TestLoadFromEnv(t *testing.T) {
	// Create a minimal config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
crm:
  api_key: "file-key"
  base_url: "https://file-url.com"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	// Set environment variables
	os.Setenv("CRM_API_KEY", "env-key")
	os.Setenv("CRM_BASE_URL", "https://env-url.com")
	os.Setenv("DATABASE_URL", "postgres://env-host/dealfinder")
	defer func() {
		os.Unsetenv("CRM_API_KEY")
		os.Unsetenv("CRM_BASE_URL")
		os.Unsetenv("DATABASE_URL")
	}()

	cfg, err := LoadFromEnv(configPath)
	require.NoError(t, err)

	// Environment variables should override file values
	assert.Equal(t, "env-key", cfg.CRM.APIKey)
	assert.Equal(t, "https://env-url.com", cfg.CRM.BaseURL)
	assert.Equal(t, "postgres://env-host/dealfinder", cfg.Database.URL)
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestLoadRejectsBadArchiveBackend(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("archive:\n  backend: \"ftp\"\n"), 0644))

	_, err := Load(configPath)
	assert.Error(t, err)
}

func TestLoadRejectsLockTTLBelowBudget(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	content := "scheduler:\n  check_timeout_seconds: 60\n  lock_ttl_seconds: 60\n"
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))

	_, err := Load(configPath)
	assert.Error(t, err)
}

func TestSchedulerDurations(t *testing.T) {
	cfg := SchedulerConfig{CheckIntervalHours: 4, JitterMaxMinutes: 5, CheckTimeoutSeconds: 60}
	assert.Equal(t, 4*time.Hour, cfg.Interval())
	assert.Equal(t, 5*time.Minute, cfg.JitterMax())
	assert.Equal(t, 60*time.Second, cfg.CheckTimeout())
}

func TestCRMTimeout(t *testing.T) {
	cfg := CRMConfig{TimeoutSeconds: 10}
	assert.Equal(t, 10*time.Second, cfg.Timeout())
}
