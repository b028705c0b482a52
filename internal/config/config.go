package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // trip timezone must resolve on minimal images

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Server ServerConfig

	// Logging configuration
	Logging LoggingConfig

	// Database configuration
	Database DatabaseConfig

	// Redis availability cache configuration
	Redis RedisConfig

	// JWT configuration
	JWT JWTConfig

	// CORS configuration
	CORS CORSConfig

	// Booking core configuration
	Booking BookingConfig

	// Payment gateway configuration
	Payment PaymentConfig

	// Passenger notification configuration
	Notification NotificationConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port        string
	Environment string // development, staging, production
	LogLevel    string // debug, info, warn, error

	EnableRequestLog bool
}

// LoggingConfig controls optional file output with rotation
type LoggingConfig struct {
	File       string // empty means stdout only
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	StorageDriver      string // "postgres" or "memory"
	Driver             string // "postgres" (lib/pq) or "pgx"
	URL                string
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
}

// RedisConfig holds availability cache configuration
type RedisConfig struct {
	Addr     string // empty disables the cache
	Password string
	DB       int
	TTL      time.Duration
}

// JWTConfig holds JWT-related configuration
type JWTConfig struct {
	Secret            string
	AccessTokenExpiry time.Duration
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// BookingConfig holds hold, sweep and inventory policy
type BookingConfig struct {
	HoldTTL                time.Duration
	MaxHoldTTL             time.Duration
	SweepInterval          time.Duration
	SweepBatchSize         int
	MaxSeatsPerBooking     int
	CancellationCutoff     time.Duration // cancellation allowed until departure minus cutoff
	InventoryRetentionDays int
	MaterializeDaysAhead   int
	PaymentReconcileAfter  time.Duration
	DefaultCurrency        string
	TaxRate                float64
	MinActiveSeats         int
	MaxActiveSeats         int
	TripTimezone           *time.Location

	// Hold placement throttling, 0 disables a limit
	HoldLimitPerPrincipal int
	HoldLimitPerIP        int
	HoldLimitWindow       time.Duration
}

// PaymentConfig holds payment collaborator configuration
type PaymentConfig struct {
	Gateway       string // "simulated" or "payable"
	Environment   string // "sandbox" or "production"
	MerchantKey   string
	MerchantToken string // SECRET - never expose to client
	ReturnURL     string
	WebhookURL    string
	StatusRetries int
	StatusBackoff time.Duration
	Timeout       time.Duration
}

// NotificationConfig selects how passengers are told about booking outcomes
type NotificationConfig struct {
	Channel string // "log" or "sms"

	// Dialog eSMS credentials. APIKey selects the URL campaign method,
	// otherwise Username and Password are used against APIURL.
	DialogAPIURL   string
	DialogUsername string
	DialogPassword string // SECRET
	DialogAPIKey   string // SECRET
	DialogMask     string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	tz := getEnv("TRIP_TIMEZONE", "Asia/Colombo")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid TRIP_TIMEZONE %q: %w", tz, err)
	}

	config := &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8080"),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),

			EnableRequestLog: getEnvAsBool("ENABLE_REQUEST_LOGGING", true),
		},
		Logging: LoggingConfig{
			File:       getEnv("LOG_FILE", ""),
			MaxSizeMB:  getEnvAsInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: getEnvAsInt("LOG_MAX_BACKUPS", 5),
			MaxAgeDays: getEnvAsInt("LOG_MAX_AGE_DAYS", 28),
		},
		Database: DatabaseConfig{
			StorageDriver:      getEnv("STORAGE_DRIVER", "postgres"),
			Driver:             getEnv("DATABASE_DRIVER", "postgres"),
			URL:                getEnv("DATABASE_URL", ""),
			MaxConnections:     getEnvAsInt("DATABASE_MAX_CONNECTIONS", 10),
			MaxIdleConnections: getEnvAsInt("DATABASE_MAX_IDLE_CONNECTIONS", 5),
			ConnMaxLifetime:    time.Duration(getEnvAsInt("DATABASE_CONN_MAX_LIFETIME", 300)) * time.Second,
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			TTL:      getEnvAsDuration("AVAILABILITY_CACHE_TTL", 15*time.Second),
		},
		JWT: JWTConfig{
			Secret:            getEnv("JWT_SECRET", ""),
			AccessTokenExpiry: time.Duration(getEnvAsInt("JWT_ACCESS_TOKEN_EXPIRY", 3600)) * time.Second,
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvAsSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
			AllowedHeaders: getEnvAsSlice("CORS_ALLOWED_HEADERS", []string{"Content-Type", "Authorization"}),
		},
		Booking: BookingConfig{
			HoldTTL:                getEnvAsDuration("HOLD_TTL", 10*time.Minute),
			MaxHoldTTL:             getEnvAsDuration("MAX_HOLD_TTL", 30*time.Minute),
			SweepInterval:          getEnvAsDuration("HOLD_SWEEP_INTERVAL", 10*time.Second),
			SweepBatchSize:         getEnvAsInt("HOLD_SWEEP_BATCH_SIZE", 100),
			MaxSeatsPerBooking:     getEnvAsInt("MAX_SEATS_PER_BOOKING", 6),
			CancellationCutoff:     getEnvAsDuration("CANCELLATION_CUTOFF", 0),
			InventoryRetentionDays: getEnvAsInt("INVENTORY_RETENTION_DAYS", 30),
			MaterializeDaysAhead:   getEnvAsInt("MATERIALIZE_DAYS_AHEAD", 7),
			PaymentReconcileAfter:  getEnvAsDuration("PAYMENT_RECONCILE_AFTER", 2*time.Minute),
			DefaultCurrency:        getEnv("DEFAULT_CURRENCY", "LKR"),
			TaxRate:                getEnvAsFloat("TAX_RATE", 0),
			MinActiveSeats:         getEnvAsInt("MIN_ACTIVE_SEATS", 20),
			MaxActiveSeats:         getEnvAsInt("MAX_ACTIVE_SEATS", 56),
			TripTimezone:           loc,
			HoldLimitPerPrincipal:  getEnvAsInt("HOLD_RATE_LIMIT_PER_PRINCIPAL", 10),
			HoldLimitPerIP:         getEnvAsInt("HOLD_RATE_LIMIT_PER_IP", 30),
			HoldLimitWindow:        getEnvAsDuration("HOLD_RATE_LIMIT_WINDOW", 10*time.Minute),
		},
		Payment: PaymentConfig{
			Gateway:       getEnv("PAYMENT_GATEWAY", "simulated"),
			Environment:   getEnv("PAYABLE_ENVIRONMENT", "sandbox"),
			MerchantKey:   getEnv("PAYABLE_MERCHANT_KEY", ""),
			MerchantToken: getEnv("PAYABLE_MERCHANT_TOKEN", ""),
			ReturnURL:     getEnv("PAYABLE_RETURN_URL", ""),
			WebhookURL:    getEnv("PAYABLE_WEBHOOK_URL", ""),
			StatusRetries: getEnvAsInt("PAYMENT_STATUS_RETRIES", 3),
			StatusBackoff: getEnvAsDuration("PAYMENT_STATUS_BACKOFF", 500*time.Millisecond),
			Timeout:       getEnvAsDuration("PAYMENT_TIMEOUT", 30*time.Second),
		},
		Notification: NotificationConfig{
			Channel:        getEnv("NOTIFICATION_CHANNEL", "log"),
			DialogAPIURL:   getEnv("DIALOG_SMS_API_URL", "https://e-sms.dialog.lk/api/v2"),
			DialogUsername: getEnv("DIALOG_SMS_USERNAME", ""),
			DialogPassword: getEnv("DIALOG_SMS_PASSWORD", ""),
			DialogAPIKey:   getEnv("DIALOG_SMS_API_KEY", ""),
			DialogMask:     getEnv("DIALOG_SMS_MASK", "SmartTransit"),
		},
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Database.StorageDriver {
	case "memory":
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required")
		}
		if c.Database.Driver != "postgres" && c.Database.Driver != "pgx" {
			return fmt.Errorf("invalid DATABASE_DRIVER: %s (must be 'postgres' or 'pgx')", c.Database.Driver)
		}
	default:
		return fmt.Errorf("invalid STORAGE_DRIVER: %s (must be 'postgres' or 'memory')", c.Database.StorageDriver)
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	b := c.Booking
	if b.HoldTTL <= 0 || b.HoldTTL > b.MaxHoldTTL {
		return fmt.Errorf("HOLD_TTL must be positive and not exceed MAX_HOLD_TTL (%s)", b.MaxHoldTTL)
	}
	if b.SweepInterval < time.Second || b.SweepInterval > time.Minute {
		return fmt.Errorf("HOLD_SWEEP_INTERVAL must be between 1s and 60s, got %s", b.SweepInterval)
	}
	if b.MaxSeatsPerBooking < 1 || b.MaxSeatsPerBooking > 10 {
		return fmt.Errorf("MAX_SEATS_PER_BOOKING must be between 1 and 10")
	}
	if b.CancellationCutoff < 0 {
		return fmt.Errorf("CANCELLATION_CUTOFF must not be negative")
	}
	if b.MinActiveSeats < 1 || b.MinActiveSeats > b.MaxActiveSeats {
		return fmt.Errorf("invalid seat policy %d-%d", b.MinActiveSeats, b.MaxActiveSeats)
	}
	if b.TaxRate < 0 || b.TaxRate >= 1 {
		return fmt.Errorf("TAX_RATE must be in [0, 1)")
	}
	if b.HoldLimitPerPrincipal < 0 || b.HoldLimitPerIP < 0 {
		return fmt.Errorf("hold rate limits must not be negative")
	}
	if (b.HoldLimitPerPrincipal > 0 || b.HoldLimitPerIP > 0) && b.HoldLimitWindow <= 0 {
		return fmt.Errorf("HOLD_RATE_LIMIT_WINDOW must be positive when a hold rate limit is set")
	}

	// Validate payment configuration only when the real gateway is used
	switch c.Payment.Gateway {
	case "simulated":
	case "payable":
		if c.Payment.MerchantKey == "" || c.Payment.MerchantToken == "" {
			return fmt.Errorf("PAYABLE_MERCHANT_KEY and PAYABLE_MERCHANT_TOKEN are required for the payable gateway")
		}
	default:
		return fmt.Errorf("invalid PAYMENT_GATEWAY: %s (must be 'simulated' or 'payable')", c.Payment.Gateway)
	}

	switch c.Notification.Channel {
	case "log":
	case "sms":
		n := c.Notification
		if n.DialogAPIKey == "" && (n.DialogUsername == "" || n.DialogPassword == "") {
			return fmt.Errorf("DIALOG_SMS_API_KEY or DIALOG_SMS_USERNAME and DIALOG_SMS_PASSWORD are required for sms notifications")
		}
	default:
		return fmt.Errorf("invalid NOTIFICATION_CHANNEL: %s (must be 'log' or 'sms')", c.Notification.Channel)
	}

	return nil
}

// Helper functions to get environment variables

func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Invalid integer value for %s, using default: %d", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		log.Printf("Invalid float value for %s, using default: %g", key, defaultValue)
		return defaultValue
	}
	return value
}

// getEnvAsDuration accepts Go duration syntax ("90s", "10m") or bare seconds
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(valueStr); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}
	log.Printf("Invalid duration value for %s, using default: %s", key, defaultValue)
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		log.Printf("Invalid boolean value for %s, using default: %t", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var result []string
	for _, v := range strings.Split(valueStr, ",") {
		trimmed := strings.TrimSpace(v)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
