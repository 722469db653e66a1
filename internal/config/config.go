package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Corpus    CorpusConfig    `yaml:"corpus"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	CRM       CRMConfig       `yaml:"crm"`
	Notify    NotifyConfig    `yaml:"notify"`
	Advisor   AdvisorConfig   `yaml:"advisor"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds the Redis connection used for per-agent check locks.
// When disabled, locking falls back to Postgres advisory locks.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// CorpusConfig locates the property snapshot file delivered by the upstream.
type CorpusConfig struct {
	SnapshotPath string `yaml:"snapshot_path"`
}

// ArchiveConfig selects where outgoing snapshots are archived on swap.
// Backend is "local" (directory) or "s3".
type ArchiveConfig struct {
	Backend  string `yaml:"backend"`
	LocalDir string `yaml:"local_dir"`
	S3Bucket string `yaml:"s3_bucket"`
	S3Prefix string `yaml:"s3_prefix"`
	S3Region string `yaml:"s3_region"`
}

// SchedulerConfig drives the periodic agent check loop.
type SchedulerConfig struct {
	CheckIntervalHours  int `yaml:"check_interval_hours"`
	JitterMaxMinutes    int `yaml:"jitter_max_minutes"`
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
	MaxConcurrentChecks int `yaml:"max_concurrent_checks"`
	CheckTimeoutSeconds int `yaml:"check_timeout_seconds"`
	LockTTLSeconds      int `yaml:"lock_ttl_seconds"`
}

// Interval returns the check cadence as a duration.
func (c SchedulerConfig) Interval() time.Duration {
	return time.Duration(c.CheckIntervalHours) * time.Hour
}

// JitterMax returns the jitter upper bound as a duration.
func (c SchedulerConfig) JitterMax() time.Duration {
	return time.Duration(c.JitterMaxMinutes) * time.Minute
}

// PollInterval returns the scheduler tick as a duration.
func (c SchedulerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// CheckTimeout returns the per-check wall-clock budget.
func (c SchedulerConfig) CheckTimeout() time.Duration {
	return time.Duration(c.CheckTimeoutSeconds) * time.Second
}

// LockTTL returns the per-agent lock TTL. It must exceed CheckTimeout so a
// lock never expires under a live check.
func (c SchedulerConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// CRMConfig holds the external CRM endpoint, credentials, pipeline routing,
// and the internal→external custom field mapping.
type CRMConfig struct {
	BaseURL             string            `yaml:"base_url"`
	APIKey              string            `yaml:"api_key"`
	PipelineID          string            `yaml:"pipeline_id"`
	StageID             string            `yaml:"stage_id"`
	TimeoutSeconds      int               `yaml:"timeout_seconds"`
	MaxParallel         int               `yaml:"max_parallel"`
	PollIntervalSeconds int               `yaml:"poll_interval_seconds"`
	FieldMapping        map[string]string `yaml:"field_mapping"`
}

// Timeout returns the per-attempt delivery timeout.
func (c CRMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// PollInterval returns the outbox poll tick as a duration.
func (c CRMConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// NotifyConfig holds the SES settings for match-alert emails.
type NotifyConfig struct {
	Enabled   bool   `yaml:"enabled"`
	FromEmail string `yaml:"from_email"`
	FromName  string `yaml:"from_name"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// AdvisorConfig holds the Bedrock settings for the conversational criteria
// advisor. When disabled the advisor endpoint returns 503.
type AdvisorConfig struct {
	Enabled   bool   `yaml:"enabled"`
	ModelID   string `yaml:"model_id"`
	Region    string `yaml:"region"`
	MaxTokens int    `yaml:"max_tokens"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// DefaultFieldMapping maps internal opportunity field names to the external
// CRM custom field keys. Deployments override individual keys in config.yaml;
// the internal names are fixed.
func DefaultFieldMapping() map[string]string {
	return map[string]string{
		"deal_score":       "customDealScore",
		"property_address": "customPropertyAddress",
		"list_price":       "customListPrice",
		"est_profit":       "customEstProfit",
		"mls_id":           "customMlsId",
		"price_per_sqft":   "customPricePerSqft",
		"below_market_pct": "customBelowMarketPct",
		"days_on_market":   "customDaysOnMarket",
		"deal_quality":     "customDealQuality",
		"estimated_arv":    "customEstimatedArv",
	}
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Corpus.SnapshotPath == "" {
		cfg.Corpus.SnapshotPath = "data/corpus/snapshot.json"
	}
	if cfg.Archive.Backend == "" {
		cfg.Archive.Backend = "local"
	}
	if cfg.Archive.LocalDir == "" {
		cfg.Archive.LocalDir = "data/archive"
	}
	if cfg.Archive.S3Prefix == "" {
		cfg.Archive.S3Prefix = "dealfinder/"
	}
	if cfg.Archive.S3Region == "" {
		cfg.Archive.S3Region = "us-east-1"
	}
	if cfg.Scheduler.CheckIntervalHours == 0 {
		cfg.Scheduler.CheckIntervalHours = 4
	}
	if cfg.Scheduler.JitterMaxMinutes == 0 {
		cfg.Scheduler.JitterMaxMinutes = 5
	}
	if cfg.Scheduler.PollIntervalSeconds == 0 {
		cfg.Scheduler.PollIntervalSeconds = 30
	}
	if cfg.Scheduler.MaxConcurrentChecks == 0 {
		cfg.Scheduler.MaxConcurrentChecks = 8
	}
	if cfg.Scheduler.CheckTimeoutSeconds == 0 {
		cfg.Scheduler.CheckTimeoutSeconds = 60
	}
	if cfg.Scheduler.LockTTLSeconds == 0 {
		cfg.Scheduler.LockTTLSeconds = 90
	}
	if cfg.CRM.TimeoutSeconds == 0 {
		cfg.CRM.TimeoutSeconds = 10
	}
	if cfg.CRM.MaxParallel == 0 {
		cfg.CRM.MaxParallel = 4
	}
	if cfg.CRM.PollIntervalSeconds == 0 {
		cfg.CRM.PollIntervalSeconds = 5
	}
	if len(cfg.CRM.FieldMapping) == 0 {
		cfg.CRM.FieldMapping = DefaultFieldMapping()
	}
	if cfg.Notify.Region == "" {
		cfg.Notify.Region = "us-east-1"
	}
	if cfg.Notify.FromName == "" {
		cfg.Notify.FromName = "DealFinder"
	}
	if cfg.Advisor.ModelID == "" {
		cfg.Advisor.ModelID = "anthropic.claude-3-sonnet-20240229-v1:0"
	}
	if cfg.Advisor.Region == "" {
		cfg.Advisor.Region = "us-east-1"
	}
	if cfg.Advisor.MaxTokens == 0 {
		cfg.Advisor.MaxTokens = 1024
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validate rejects configurations that cannot produce a working process.
func (c *Config) validate() error {
	if c.Archive.Backend != "local" && c.Archive.Backend != "s3" {
		return fmt.Errorf("archive.backend must be \"local\" or \"s3\", got %q", c.Archive.Backend)
	}
	if c.Archive.Backend == "s3" && c.Archive.S3Bucket == "" {
		return fmt.Errorf("archive.s3_bucket is required when archive.backend is \"s3\"")
	}
	if c.Scheduler.LockTTLSeconds <= c.Scheduler.CheckTimeoutSeconds {
		return fmt.Errorf("scheduler.lock_ttl_seconds (%d) must exceed scheduler.check_timeout_seconds (%d)",
			c.Scheduler.LockTTLSeconds, c.Scheduler.CheckTimeoutSeconds)
	}
	return nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	// Override with environment variables if present
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("CORPUS_SNAPSHOT_PATH"); v != "" {
		cfg.Corpus.SnapshotPath = v
	}
	if v := os.Getenv("ARCHIVE_S3_BUCKET"); v != "" {
		cfg.Archive.S3Bucket = v
		cfg.Archive.Backend = "s3"
	}
	if v := os.Getenv("ARCHIVE_S3_REGION"); v != "" {
		cfg.Archive.S3Region = v
	}
	if v := os.Getenv("CRM_BASE_URL"); v != "" {
		cfg.CRM.BaseURL = v
	}
	if v := os.Getenv("CRM_API_KEY"); v != "" {
		cfg.CRM.APIKey = v
	}
	if v := os.Getenv("CRM_PIPELINE_ID"); v != "" {
		cfg.CRM.PipelineID = v
	}
	if v := os.Getenv("CRM_STAGE_ID"); v != "" {
		cfg.CRM.StageID = v
	}
	if v := os.Getenv("NOTIFY_FROM_EMAIL"); v != "" {
		cfg.Notify.FromEmail = v
		cfg.Notify.Enabled = true
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.Notify.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.Notify.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.Notify.Region = v
	}
	if v := os.Getenv("ADVISOR_MODEL_ID"); v != "" {
		cfg.Advisor.ModelID = v
		cfg.Advisor.Enabled = true
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	return cfg, nil
}
