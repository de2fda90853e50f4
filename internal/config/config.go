package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

// Store drivers.
const (
	DriverMongoDB = "mongodb"
	DriverSQLite  = "sqlite"
	DriverMemory  = "memory"
)

// Config represents the full application configuration surface.
type Config struct {
	Server   ServerConfig
	Store    StoreConfig
	MongoDB  MongoDBConfig
	SQLite   SQLiteConfig
	Schedule ScheduleConfig
	WhatsApp WhatsAppConfig
	Sheets   SheetsConfig
	Log      LogConfig
	Location *time.Location
	Timezone string
}

// ServerConfig holds HTTP server related options.
type ServerConfig struct {
	Port string
}

// StoreConfig selects the document store backend.
type StoreConfig struct {
	Driver      string
	MaxAttempts int
}

// MongoDBConfig holds settings for MongoDB.
type MongoDBConfig struct {
	URI    string
	DBName string
}

// SQLiteConfig holds settings for the embedded store.
type SQLiteConfig struct {
	Path string
}

// ScheduleConfig holds cron expressions for background jobs.
type ScheduleConfig struct {
	Outbox    string
	Reconcile string
	Digest    string
	Export    string
}

// WhatsAppConfig contains credentials for the Meta WhatsApp Cloud API, used
// for digests, drift alerts and front-desk chat commands.
type WhatsAppConfig struct {
	AccessToken    string
	PhoneNumberID  string
	VerifyToken    string
	BaseURL        string
	APIVersion     string
	ManagerID      string
	AllowedSenders []string
}

// Enabled reports whether notifications can be sent.
func (c WhatsAppConfig) Enabled() bool {
	return c.AccessToken != "" && c.PhoneNumberID != "" && c.ManagerID != ""
}

// CommandsEnabled reports whether inbound chat commands are accepted.
func (c WhatsAppConfig) CommandsEnabled() bool {
	return c.Enabled() && c.VerifyToken != ""
}

// Senders returns the numbers allowed to issue chat commands. The manager is
// always included.
func (c WhatsAppConfig) Senders() []string {
	out := make([]string, 0, len(c.AllowedSenders)+1)
	if c.ManagerID != "" {
		out = append(out, c.ManagerID)
	}
	return append(out, c.AllowedSenders...)
}

// SheetsConfig contains configuration required to interact with Google Sheets.
type SheetsConfig struct {
	CredentialsPath string
	SpreadsheetID   string
}

// Enabled reports whether report export is configured.
func (c SheetsConfig) Enabled() bool {
	return c.CredentialsPath != "" && c.SpreadsheetID != ""
}

// LogConfig holds logger options.
type LogConfig struct {
	Level string
}

// Load reads environment variables (optionally from the provided file) and
// materializes a Config instance.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed loading env file %s: %w", envFile, err)
			}
		}
	} else {
		// Ignore the returned error here; missing .env files are acceptable when
		// configuration comes from the environment directly.
		_ = godotenv.Load()
	}

	maxAttempts, err := getenvInt("TX_MAX_ATTEMPTS", 25)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: getenvWithDefault("APP_PORT", "8080"),
		},
		Store: StoreConfig{
			Driver:      getenvWithDefault("STORE_DRIVER", DriverMongoDB),
			MaxAttempts: maxAttempts,
		},
		MongoDB: MongoDBConfig{
			URI:    getenvWithDefault("MONGODB_URI", "mongodb://localhost:27017/?replicaSet=rs0"),
			DBName: getenvWithDefault("MONGODB_DB_NAME", "gym"),
		},
		SQLite: SQLiteConfig{
			Path: getenvWithDefault("SQLITE_PATH", "gymledger.db"),
		},
		Schedule: ScheduleConfig{
			Outbox:    getenvWithDefault("OUTBOX_CRON", "@every 1m"),
			Reconcile: getenvWithDefault("RECONCILE_CRON", "0 3 * * *"),
			Digest:    getenvWithDefault("DIGEST_CRON", "0 20 * * 5"),
			Export:    getenvWithDefault("EXPORT_CRON", "0 6 1 * *"),
		},
		WhatsApp: WhatsAppConfig{
			AccessToken:    os.Getenv("WHATSAPP_TOKEN"),
			PhoneNumberID:  os.Getenv("WHATSAPP_PHONE_NUMBER_ID"),
			BaseURL:        getenvWithDefault("WHATSAPP_BASE_URL", "https://graph.facebook.com"),
			APIVersion:     getenvWithDefault("WHATSAPP_API_VERSION", "v20.0"),
			ManagerID:      os.Getenv("WHATSAPP_MANAGER_ID"),
			VerifyToken:    os.Getenv("WHATSAPP_VERIFY_TOKEN"),
			AllowedSenders: splitList(os.Getenv("WHATSAPP_ALLOWED_SENDERS")),
		},
		Sheets: SheetsConfig{
			CredentialsPath: os.Getenv("GOOGLE_SHEETS_CREDENTIALS_PATH"),
			SpreadsheetID:   os.Getenv("GOOGLE_SHEET_DATABASE_ID"),
		},
		Log: LogConfig{
			Level: getenvWithDefault("LOG_LEVEL", "info"),
		},
		Timezone: getenvWithDefault("TIMEZONE", "UTC"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate ensures that required configuration fields are populated and
// resolves the timezone.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	if c.Server.Port == "" {
		return errors.New("APP_PORT must be provided")
	}

	switch c.Store.Driver {
	case DriverMongoDB:
		if c.MongoDB.URI == "" || c.MongoDB.DBName == "" {
			return errors.New("MONGODB_URI and MONGODB_DB_NAME must be provided for the mongodb driver")
		}
	case DriverSQLite:
		if c.SQLite.Path == "" {
			return errors.New("SQLITE_PATH must be provided for the sqlite driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER %q is not one of mongodb, sqlite, memory", c.Store.Driver)
	}

	if c.Store.MaxAttempts <= 0 {
		return errors.New("TX_MAX_ATTEMPTS must be positive")
	}

	if c.WhatsApp.AccessToken != "" {
		if c.WhatsApp.BaseURL == "" {
			return errors.New("WHATSAPP_BASE_URL must not be empty")
		}
		if c.WhatsApp.APIVersion == "" {
			return errors.New("WHATSAPP_API_VERSION must not be empty")
		}
	}

	if c.Timezone == "" {
		return errors.New("TIMEZONE must be provided")
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("TIMEZONE %q: %w", c.Timezone, err)
	}
	c.Location = loc

	return nil
}

func getenvWithDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getenvInt(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
