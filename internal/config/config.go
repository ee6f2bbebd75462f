package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// JWT configuration
	JWT JWTConfig

	// CORS configuration
	CORS CORSConfig

	// Payment gateway and bank transfer configuration
	Payment PaymentConfig

	// Bank transfer receipt storage
	Receipts ReceiptConfig

	// Scheduled reconciliation
	Reconcile ReconcileConfig

	// Notification relay (RabbitMQ)
	Relay RelayConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port        string
	Environment string // development, staging, production
	LogLevel    string // debug, info, warn, error
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	URL                string
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
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

// PaymentConfig holds Flutterwave and bank transfer settings
type PaymentConfig struct {
	FlutterwaveBaseURL   string
	FlutterwaveSecretKey string // server-to-server verify calls (SECRET)
	FlutterwavePublicKey string
	WebhookSecretHash    string // expected value of the verif-hash header (SECRET)
	RedirectURLTemplate  string // gateway checkout URL, "{reference}" is substituted
	FrontendSuccessURL   string // "{reference}" is substituted
	FrontendCancelledURL string // "{reference}" is substituted
	VerifyTimeout        time.Duration
	BankName             string
	BankAccountName      string
	BankAccountNumber    string
}

// ReceiptConfig holds bank transfer receipt upload settings
type ReceiptConfig struct {
	Dir      string
	MaxBytes int64
}

// ReconcileConfig holds the reconciliation sweep schedule
type ReconcileConfig struct {
	Enabled  bool
	Schedule string // robfig/cron spec with seconds
}

// RelayConfig holds the outbound notification relay settings
type RelayConfig struct {
	URL        string // empty disables the relay
	Exchange   string
	RoutingKey string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8080"),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
		},
		Database: DatabaseConfig{
			URL:                getEnv("DATABASE_URL", ""),
			MaxConnections:     getEnvAsInt("DATABASE_MAX_CONNECTIONS", 10),
			MaxIdleConnections: getEnvAsInt("DATABASE_MAX_IDLE_CONNECTIONS", 5),
			ConnMaxLifetime:    time.Duration(getEnvAsInt("DATABASE_CONN_MAX_LIFETIME", 300)) * time.Second,
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
		Payment: PaymentConfig{
			FlutterwaveBaseURL:   getEnv("FLW_BASE_URL", "https://api.flutterwave.com"),
			FlutterwaveSecretKey: getEnv("FLW_SECRET_KEY", ""),
			FlutterwavePublicKey: getEnv("FLW_PUBLIC_KEY", ""),
			WebhookSecretHash:    getEnv("FLUTTERWAVE_SECRET_HASH", ""),
			RedirectURLTemplate:  getEnv("FLUTTERWAVE_REDIRECT_URL", ""),
			FrontendSuccessURL:   getEnv("PAYMENT_FRONTEND_SUCCESS_URL", ""),
			FrontendCancelledURL: getEnv("PAYMENT_FRONTEND_CANCELLED_URL", ""),
			VerifyTimeout:        time.Duration(getEnvAsInt("FLW_VERIFY_TIMEOUT_SECONDS", 30)) * time.Second,
			BankName:             getEnv("BANK_NAME", ""),
			BankAccountName:      getEnv("BANK_ACCOUNT_NAME", ""),
			BankAccountNumber:    getEnv("BANK_ACCOUNT_NUMBER", ""),
		},
		Receipts: ReceiptConfig{
			Dir:      getEnv("RECEIPT_UPLOAD_DIR", "./uploads/receipts"),
			MaxBytes: int64(getEnvAsInt("RECEIPT_MAX_BYTES", 5<<20)),
		},
		Reconcile: ReconcileConfig{
			Enabled:  getEnvAsBool("RECONCILE_ENABLED", true),
			Schedule: getEnv("RECONCILE_CRON", "0 */10 * * * *"),
		},
		Relay: RelayConfig{
			URL:        getEnv("RABBITMQ_URL", ""),
			Exchange:   getEnv("RABBITMQ_EXCHANGE", "booking.events"),
			RoutingKey: getEnv("RABBITMQ_NOTIFICATION_KEY", "notification.created"),
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
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.Receipts.MaxBytes <= 0 {
		return fmt.Errorf("RECEIPT_MAX_BYTES must be positive")
	}

	if c.Server.Environment == "production" {
		if c.Payment.FlutterwaveSecretKey == "" {
			return fmt.Errorf("FLW_SECRET_KEY is required in production")
		}
		if c.Payment.WebhookSecretHash == "" {
			return fmt.Errorf("FLUTTERWAVE_SECRET_HASH is required in production")
		}
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
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
