package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig holds all configuration for the application
type AppConfig struct {
	APIURL    string
	StreamURL string

	TelegramToken   string
	OwnerTelegramID int64
	DatabaseURL     string

	KeyringService string
	KeyringFileDir string

	LogLevel    string
	Environment string

	StreamHeaderOnly       bool
	StreamHeartbeatTimeout time.Duration
	StreamBackoffInitial   time.Duration
	StreamBackoffMax       time.Duration
	StreamMaxRetries       int

	PageSize         int
	StoreMaxRecords  int
	RelayMinPriority string

	CronSpecResync string
	CronSpecDigest string
}

// LoadBase reads the settings every subcommand needs: the backend, the
// keyring and logging. The bot settings are only required by Load.
func LoadBase() (*AppConfig, error) {
	// A missing .env is fine; existing variables win.
	_ = godotenv.Load()

	cfg := &AppConfig{}
	var err error

	cfg.APIURL = strings.TrimRight(os.Getenv("API_URL"), "/")
	if cfg.APIURL == "" {
		return nil, fmt.Errorf("API_URL is not set")
	}

	cfg.StreamURL = os.Getenv("STREAM_URL")
	if cfg.StreamURL == "" {
		cfg.StreamURL = deriveStreamURL(cfg.APIURL)
	}

	cfg.KeyringService = os.Getenv("KEYRING_SERVICE")
	if cfg.KeyringService == "" {
		cfg.KeyringService = "campus_notifier"
	}
	cfg.KeyringFileDir = os.Getenv("KEYRING_FILE_DIR")

	cfg.LogLevel = strings.ToLower(os.Getenv("LOG_LEVEL"))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	cfg.Environment = strings.ToLower(os.Getenv("ENVIRONMENT"))
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	if cfg.StreamHeaderOnly, err = boolEnv("STREAM_HEADER_ONLY", false); err != nil {
		return nil, err
	}
	if cfg.StreamHeartbeatTimeout, err = durationEnv("STREAM_HEARTBEAT_TIMEOUT", 45*time.Second); err != nil {
		return nil, err
	}
	if cfg.StreamBackoffInitial, err = durationEnv("STREAM_BACKOFF_INITIAL", time.Second); err != nil {
		return nil, err
	}
	if cfg.StreamBackoffMax, err = durationEnv("STREAM_BACKOFF_MAX", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.StreamMaxRetries, err = intEnv("STREAM_MAX_RETRIES", 0); err != nil {
		return nil, err
	}
	if cfg.PageSize, err = intEnv("PAGE_SIZE", 20); err != nil {
		return nil, err
	}
	if cfg.PageSize <= 0 {
		return nil, fmt.Errorf("invalid PAGE_SIZE: must be positive")
	}
	if cfg.StoreMaxRecords, err = intEnv("STORE_MAX_RECORDS", 500); err != nil {
		return nil, err
	}

	cfg.RelayMinPriority = strings.ToUpper(os.Getenv("RELAY_MIN_PRIORITY"))
	if cfg.RelayMinPriority == "" {
		cfg.RelayMinPriority = "HIGH"
	}

	cfg.CronSpecResync = os.Getenv("CRON_SPEC_RESYNC")
	if cfg.CronSpecResync == "" {
		cfg.CronSpecResync = "*/10 * * * *" // every 10 minutes
	}
	cfg.CronSpecDigest = os.Getenv("CRON_SPEC_DIGEST")
	if cfg.CronSpecDigest == "" {
		cfg.CronSpecDigest = "0 8 * * *" // 8 AM daily
	}

	return cfg, nil
}

// Load reads the full configuration of the run command.
func Load() (*AppConfig, error) {
	cfg, err := LoadBase()
	if err != nil {
		return nil, err
	}

	cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")
	if cfg.TelegramToken == "" {
		return nil, fmt.Errorf("TELEGRAM_TOKEN is not set")
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}

	ownerIDStr := os.Getenv("OWNER_TELEGRAM_ID")
	if ownerIDStr == "" {
		return nil, fmt.Errorf("OWNER_TELEGRAM_ID is not set")
	}
	cfg.OwnerTelegramID, err = strconv.ParseInt(ownerIDStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid OWNER_TELEGRAM_ID: %w", err)
	}

	return cfg, nil
}

// deriveStreamURL keeps the scheme and host of API_URL.
func deriveStreamURL(apiURL string) string {
	u, err := url.Parse(apiURL)
	if err != nil || u.Host == "" {
		return strings.TrimSuffix(apiURL, "/graphql") + "/api/notifications/stream/"
	}
	return u.Scheme + "://" + u.Host + "/api/notifications/stream/"
}

func boolEnv(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid %s: must not be negative", key)
	}
	return n, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
