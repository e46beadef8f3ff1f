package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	JWT      JWTConfig
	Firebase FirebaseConfig
	SMS      SMSConfig
	Email    EmailConfig
	Dispatch DispatchConfig
}

type ServerConfig struct {
	Port         string
	Env          string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DatabaseConfig struct {
	DSN             string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

type JWTConfig struct {
	AccessSecret string
	AccessExpiry time.Duration
	Issuer       string
}

type FirebaseConfig struct {
	ServiceAccountPath string
}

type SMSConfig struct {
	BaseURL  string
	Username string
	APIKey   string
	SenderID string
}

type EmailConfig struct {
	PostmarkServerToken  string
	PostmarkAccountToken string
	FromAddress          string
}

// DispatchConfig tunes the scheduler. The intervals are deployment
// parameters, not correctness parameters: all due records are
// eventually processed at any setting.
type DispatchConfig struct {
	PollInterval    time.Duration
	SweepInterval   time.Duration
	Workers         int
	GatewayTimeout  time.Duration
	BatchLimit      int // max due records picked per cycle
	SweepPageSize   int
	StaleClaimAfter time.Duration // in-flight claims older than this are released
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8090"),
			Env:          getEnv("APP_ENV", "development"),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			DSN:             getEnv("DATABASE_DSN", "chamalink:chamalink@tcp(localhost:3306)/chamalink?charset=utf8mb4&parseTime=True&loc=Local"),
			MaxIdleConns:    10,
			MaxOpenConns:    100,
			ConnMaxLifetime: time.Hour,
		},
		JWT: JWTConfig{
			AccessSecret: getEnv("JWT_ACCESS_SECRET", "change-me-in-production"),
			AccessExpiry: getDuration("JWT_ACCESS_EXPIRY", 24*time.Hour),
			Issuer:       "chamalink",
		},
		Firebase: FirebaseConfig{
			ServiceAccountPath: os.Getenv("FIREBASE_SERVICE_ACCOUNT_PATH"),
		},
		SMS: SMSConfig{
			BaseURL:  getEnv("SMS_BASE_URL", "https://api.sandbox.umoja-sms.co.ke"),
			Username: os.Getenv("SMS_USERNAME"),
			APIKey:   os.Getenv("SMS_API_KEY"),
			SenderID: getEnv("SMS_SENDER_ID", "CHAMALINK"),
		},
		Email: EmailConfig{
			PostmarkServerToken:  os.Getenv("POSTMARK_SERVER_TOKEN"),
			PostmarkAccountToken: os.Getenv("POSTMARK_ACCOUNT_TOKEN"),
			FromAddress:          getEnv("EMAIL_FROM", "no-reply@chamalink.co.ke"),
		},
		Dispatch: DispatchConfig{
			PollInterval:    getDuration("DISPATCH_POLL_INTERVAL", 30*time.Second),
			SweepInterval:   getDuration("DISPATCH_SWEEP_INTERVAL", 5*time.Minute),
			Workers:         getInt("DISPATCH_WORKERS", 8),
			GatewayTimeout:  getDuration("DISPATCH_GATEWAY_TIMEOUT", 20*time.Second),
			BatchLimit:      getInt("DISPATCH_BATCH_LIMIT", 200),
			SweepPageSize:   getInt("DISPATCH_SWEEP_PAGE_SIZE", 500),
			StaleClaimAfter: getDuration("DISPATCH_STALE_CLAIM_AFTER", 10*time.Minute),
		},
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
