package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level      string `toml:"level"`
	Pretty     bool   `toml:"pretty"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// AxiomConfig holds Axiom logging configuration.
type AxiomConfig struct {
	Send          bool          `toml:"send"`
	APIKey        string        `toml:"api_key"`
	OrgID         string        `toml:"org_id"`
	Dataset       string        `toml:"dataset"`
	FlushInterval time.Duration `toml:"-"`
}

// StorageConfig locates the ledger database and document directories.
type StorageConfig struct {
	DataDir     string `toml:"data_dir"`
	DBPath      string `toml:"db_path"`
	MasterDir   string `toml:"master_dir"`
	DownloadDir string `toml:"download_dir"`
	LockDir     string `toml:"lock_dir"`
}

// AssemblyConfig controls how sub-documents are packed into masters.
type AssemblyConfig struct {
	MaxMasterSizeMB  int  `toml:"max_master_size_mb"`
	PlaceholderPages int  `toml:"placeholder_pages"`
	CompactOnRemove  bool `toml:"compact_on_remove"`
}

// S3Config covers the optional content source and sealed-master archive.
type S3Config struct {
	Bucket          string `toml:"bucket"`
	Region          string `toml:"region"`
	Endpoint        string `toml:"endpoint"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	ArchivePrefix   string `toml:"archive_prefix"`
	ArchiveOnSeal   bool   `toml:"archive_on_seal"`
}

// RedisConfig covers the optional event stream and distributed category locks.
type RedisConfig struct {
	URL         string        `toml:"url"`
	EventStream string        `toml:"event_stream"`
	LockPrefix  string        `toml:"lock_prefix"`
	LockTTL     time.Duration `toml:"-"`
}

// LockConfig picks the category lock backend.
type LockConfig struct {
	Backend string        `toml:"backend"` // "file"|"redis"
	Wait    time.Duration `toml:"-"`
}

// HTTPConfig configures the serve command.
type HTTPConfig struct {
	Addr string `toml:"addr"`
}

// Config is the top-level configuration.
type Config struct {
	Logging  LoggingConfig  `toml:"logging"`
	Axiom    AxiomConfig    `toml:"axiom"`
	Storage  StorageConfig  `toml:"storage"`
	Assembly AssemblyConfig `toml:"assembly"`
	S3       S3Config       `toml:"s3"`
	Redis    RedisConfig    `toml:"redis"`
	Lock     LockConfig     `toml:"lock"`
	HTTP     HTTPConfig     `toml:"http"`
}

// Default returns the built-in configuration.
func Default() Config {
	dataDir := "data"
	return Config{
		Logging: LoggingConfig{
			Level:      "info",
			Pretty:     parseBool(devDefaultPretty()),
			File:       "logs/masterdoc.log",
			MaxSizeMB:  100,
			MaxBackups: 10,
			MaxAgeDays: 30,
			Compress:   true,
		},
		Axiom: AxiomConfig{
			Dataset:       "dev_masterdoc",
			FlushInterval: 10 * time.Second,
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Assembly: AssemblyConfig{
			MaxMasterSizeMB:  100,
			PlaceholderPages: 1,
		},
		S3: S3Config{
			ArchivePrefix: "masters",
		},
		Redis: RedisConfig{
			EventStream: "masterdoc:events",
			LockPrefix:  "masterdoc:lock:",
			LockTTL:     10 * time.Minute,
		},
		Lock: LockConfig{
			Backend: "file",
			Wait:    30 * time.Second,
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
	}
}

// FromEnv loads configuration from environment with sensible defaults.
func FromEnv() Config {
	cfg := Default()
	applyEnv(&cfg)
	cfg.normalize()
	return cfg
}

func applyEnv(cfg *Config) {
	// Logging
	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Pretty = parseBoolDefault(os.Getenv("LOG_PRETTY"), cfg.Logging.Pretty)
	cfg.Logging.File = getEnv("LOG_FILE", cfg.Logging.File)
	cfg.Logging.MaxSizeMB = parseInt(os.Getenv("LOG_MAX_SIZE_MB"), cfg.Logging.MaxSizeMB)
	cfg.Logging.MaxBackups = parseInt(os.Getenv("LOG_MAX_BACKUPS"), cfg.Logging.MaxBackups)
	cfg.Logging.MaxAgeDays = parseInt(os.Getenv("LOG_MAX_AGE_DAYS"), cfg.Logging.MaxAgeDays)
	cfg.Logging.Compress = parseBoolDefault(os.Getenv("LOG_COMPRESS"), cfg.Logging.Compress)

	// Axiom
	cfg.Axiom.Send = parseBoolDefault(os.Getenv("SEND_LOGS_TO_AXIOM"), cfg.Axiom.Send)
	cfg.Axiom.APIKey = getEnv("AXIOM_API_KEY", cfg.Axiom.APIKey)
	cfg.Axiom.OrgID = getEnv("AXIOM_ORG_ID", cfg.Axiom.OrgID)
	if v := os.Getenv("AXIOM_DATASET"); v != "" {
		cfg.Axiom.Dataset = v + "_masterdoc"
	}
	cfg.Axiom.FlushInterval = parseDuration(os.Getenv("AXIOM_FLUSH_INTERVAL"), cfg.Axiom.FlushInterval)

	// Storage
	cfg.Storage.DataDir = getEnv("DATA_DIR", cfg.Storage.DataDir)
	cfg.Storage.DBPath = getEnv("LEDGER_DB_PATH", cfg.Storage.DBPath)
	cfg.Storage.MasterDir = getEnv("MASTER_DIR", cfg.Storage.MasterDir)
	cfg.Storage.DownloadDir = getEnv("DOWNLOAD_DIR", cfg.Storage.DownloadDir)
	cfg.Storage.LockDir = getEnv("LOCK_DIR", cfg.Storage.LockDir)

	// Assembly
	cfg.Assembly.MaxMasterSizeMB = parseInt(os.Getenv("MAX_MASTER_SIZE_MB"), cfg.Assembly.MaxMasterSizeMB)
	cfg.Assembly.PlaceholderPages = parseInt(os.Getenv("PLACEHOLDER_PAGES"), cfg.Assembly.PlaceholderPages)
	cfg.Assembly.CompactOnRemove = parseBoolDefault(os.Getenv("COMPACT_ON_REMOVE"), cfg.Assembly.CompactOnRemove)

	// S3
	cfg.S3.Bucket = getEnv("AWS_S3_BUCKET", cfg.S3.Bucket)
	cfg.S3.Region = getEnv("AWS_REGION", cfg.S3.Region)
	cfg.S3.Endpoint = getEnv("AWS_S3_ENDPOINT", cfg.S3.Endpoint)
	cfg.S3.AccessKeyID = getEnv("AWS_ACCESS_KEY_ID", cfg.S3.AccessKeyID)
	cfg.S3.SecretAccessKey = getEnv("AWS_SECRET_ACCESS_KEY", cfg.S3.SecretAccessKey)
	cfg.S3.ArchivePrefix = getEnv("S3_ARCHIVE_PREFIX", cfg.S3.ArchivePrefix)
	cfg.S3.ArchiveOnSeal = parseBoolDefault(os.Getenv("S3_ARCHIVE_ON_SEAL"), cfg.S3.ArchiveOnSeal)

	// Redis
	cfg.Redis.URL = getEnv("REDIS_URL", cfg.Redis.URL)
	cfg.Redis.EventStream = getEnv("EVENT_STREAM", cfg.Redis.EventStream)
	cfg.Redis.LockPrefix = getEnv("LOCK_PREFIX", cfg.Redis.LockPrefix)
	cfg.Redis.LockTTL = parseDuration(os.Getenv("LOCK_TTL"), cfg.Redis.LockTTL)

	// Locks
	cfg.Lock.Backend = getEnv("LOCK_BACKEND", cfg.Lock.Backend)
	cfg.Lock.Wait = parseDuration(os.Getenv("LOCK_WAIT"), cfg.Lock.Wait)

	// HTTP
	if port := os.Getenv("PORT"); port != "" {
		cfg.HTTP.Addr = ":" + port
	}
	cfg.HTTP.Addr = getEnv("HTTP_ADDR", cfg.HTTP.Addr)
}

// normalize fills directories derived from DataDir.
func (c *Config) normalize() {
	if c.Storage.DBPath == "" {
		c.Storage.DBPath = filepath.Join(c.Storage.DataDir, "ledger.db")
	}
	if c.Storage.MasterDir == "" {
		c.Storage.MasterDir = filepath.Join(c.Storage.DataDir, "masters")
	}
	if c.Storage.DownloadDir == "" {
		c.Storage.DownloadDir = filepath.Join(c.Storage.DataDir, "downloads")
	}
	if c.Storage.LockDir == "" {
		c.Storage.LockDir = filepath.Join(c.Storage.DataDir, "locks")
	}
	c.Lock.Backend = strings.ToLower(strings.TrimSpace(c.Lock.Backend))
	if c.Lock.Backend == "" {
		c.Lock.Backend = "file"
	}
}

// Validate rejects configurations the assembly pipeline cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Assembly.MaxMasterSizeMB <= 0 {
		errs = append(errs, errors.New("assembly.max_master_size_mb must be positive"))
	}
	if c.Assembly.PlaceholderPages < 1 {
		errs = append(errs, errors.New("assembly.placeholder_pages must be at least 1"))
	}
	if strings.TrimSpace(c.Storage.DataDir) == "" {
		errs = append(errs, errors.New("storage.data_dir is required"))
	}
	switch c.Lock.Backend {
	case "file":
	case "redis":
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("lock.backend redis needs redis.url"))
		}
	default:
		errs = append(errs, errors.New("lock.backend must be file or redis"))
	}
	if c.S3.ArchiveOnSeal && c.S3.Bucket == "" {
		errs = append(errs, errors.New("s3.archive_on_seal needs s3.bucket"))
	}
	return errors.Join(errs...)
}

// ByteSizeCap returns the per-master byte ceiling.
func (c Config) ByteSizeCap() int64 {
	return int64(c.Assembly.MaxMasterSizeMB) * 1024 * 1024
}

// EnsureDirectories creates every directory the pipeline writes into.
func (c Config) EnsureDirectories() error {
	for _, dir := range []string{c.Storage.DataDir, c.Storage.MasterDir, c.Storage.DownloadDir, c.Storage.LockDir, filepath.Dir(c.Storage.DBPath)} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// Helpers
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func parseBool(s string) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseBoolDefault(s string, def bool) bool {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return parseBool(s)
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

func devDefaultPretty() string {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	if env == "dev" || env == "development" || env == "local" {
		return "true"
	}
	return "false"
}
