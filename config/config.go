package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	Admin      AdminConfig
	Mpesa      MpesaConfig
	Download   DownloadConfig
	Email      EmailConfig
	Cloudinary CloudinaryConfig
	Kafka      KafkaConfig
}

type ServerConfig struct {
	Port         string `validate:"required,numeric"`
	Env          string `validate:"oneof=development production test"`
	PublicURL    string `validate:"required,url"` // used to build download links in emails
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DatabaseConfig struct {
	Driver          string `validate:"oneof=mysql postgres sqlite"`
	DSN             string `validate:"required"`
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig is optional; without a URL the rate limiters stay in-process.
type RedisConfig struct {
	URL string
}

type JWTConfig struct {
	AccessSecret  string `validate:"required,min=16"`
	RefreshSecret string `validate:"required,min=16"`
	AccessExpiry  time.Duration
	RefreshExpiry time.Duration
	Issuer        string
}

// AdminConfig seeds the first admin account on startup when both fields are set.
type AdminConfig struct {
	Email    string
	Password string
}

// MpesaConfig holds Daraja credentials. When ConsumerKey is empty the stub provider is used.
type MpesaConfig struct {
	Environment        string `validate:"oneof=sandbox production"`
	BaseURL            string
	ConsumerKey        string `validate:"required"`
	ConsumerSecret     string `validate:"required"`
	ShortCode          string `validate:"required,numeric"`
	Passkey            string `validate:"required"`
	CallbackBaseURL    string `validate:"required,url"` // callbacks land on CallbackBaseURL + /api/v1/webhooks/mpesa/<CallbackSecret>/...
	CallbackSecret     string `validate:"required,min=16,alphanum"`
	InitiatorName      string
	SecurityCredential string
	Timeout            time.Duration
}

type DownloadConfig struct {
	TokenTTL        time.Duration
	RedeemRateLimit int // attempts per IP per RedeemWindow
	RedeemWindow    time.Duration
}

type EmailConfig struct {
	BrevoAPIKey string
	FromEmail   string
	FromName    string
}

type CloudinaryConfig struct {
	CloudName string
	APIKey    string
	APISecret string
}

type KafkaConfig struct {
	Brokers     []string
	TopicPrefix string
}

func Load() *Config {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	env := getEnv("APP_ENV", "development")
	mpesaEnv := getEnv("MPESA_ENVIRONMENT", "sandbox")
	mpesaBase := "https://sandbox.safaricom.co.ke"
	if mpesaEnv == "production" {
		mpesaBase = "https://api.safaricom.co.ke"
	}
	publicURL := getEnv("PUBLIC_URL", "http://localhost:8099")

	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8099"),
			Env:          env,
			PublicURL:    publicURL,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          getEnv("DB_DRIVER", "sqlite"),
			DSN:             getEnv("DATABASE_URL", "fwstore.db"),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 10),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 100),
			ConnMaxLifetime: time.Hour,
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
		},
		JWT: JWTConfig{
			AccessSecret:  getEnv("JWT_ACCESS_SECRET", "change-me-in-production"),
			RefreshSecret: getEnv("JWT_REFRESH_SECRET", "change-me-refresh-secret"),
			AccessExpiry:  getEnvDuration("JWT_ACCESS_EXPIRY", 30*time.Minute),
			RefreshExpiry: getEnvDuration("JWT_REFRESH_EXPIRY", 168*time.Hour),
			Issuer:        "fwstore",
		},
		Admin: AdminConfig{
			Email:    getEnv("ADMIN_EMAIL", ""),
			Password: getEnv("ADMIN_PASSWORD", ""),
		},
		Mpesa: MpesaConfig{
			Environment:        mpesaEnv,
			BaseURL:            getEnv("MPESA_BASE_URL", mpesaBase),
			ConsumerKey:        getEnv("MPESA_CONSUMER_KEY", ""),
			ConsumerSecret:     getEnv("MPESA_CONSUMER_SECRET", ""),
			ShortCode:          getEnv("MPESA_SHORTCODE", ""),
			Passkey:            getEnv("MPESA_PASSKEY", ""),
			CallbackBaseURL:    getEnv("MPESA_CALLBACK_BASE_URL", publicURL),
			CallbackSecret:     getEnv("MPESA_CALLBACK_SECRET", ""),
			InitiatorName:      getEnv("MPESA_INITIATOR_NAME", "testapi"),
			SecurityCredential: getEnv("MPESA_SECURITY_CREDENTIAL", ""),
			Timeout:            getEnvDuration("MPESA_TIMEOUT", 30*time.Second),
		},
		Download: DownloadConfig{
			TokenTTL:        24 * time.Hour,
			RedeemRateLimit: getEnvInt("DOWNLOAD_RATE_LIMIT", 20),
			RedeemWindow:    time.Minute,
		},
		Email: EmailConfig{
			BrevoAPIKey: getEnv("BREVO_API_KEY", ""),
			FromEmail:   getEnv("BREVO_FROM_EMAIL", "no-reply@fwstore.local"),
			FromName:    getEnv("BREVO_FROM_NAME", "Firmware Store"),
		},
		Cloudinary: CloudinaryConfig{
			CloudName: getEnv("CLOUDINARY_CLOUD_NAME", ""),
			APIKey:    getEnv("CLOUDINARY_API_KEY", ""),
			APISecret: getEnv("CLOUDINARY_API_SECRET", ""),
		},
		Kafka: KafkaConfig{
			Brokers:     splitList(getEnv("KAFKA_BROKERS", "")),
			TopicPrefix: getEnv("KAFKA_TOPIC_PREFIX", "fwstore."),
		},
	}
}

// MpesaEnabled reports whether Daraja credentials are configured.
func (c *Config) MpesaEnabled() bool {
	return c.Mpesa.ConsumerKey != ""
}

// Validate checks the sections the server cannot start without. M-Pesa settings are only
// enforced once credentials are supplied, and always in production.
func (c *Config) Validate() error {
	v := validator.New()
	for name, section := range map[string]interface{}{
		"server":   c.Server,
		"database": c.Database,
		"jwt":      c.JWT,
	} {
		if err := v.Struct(section); err != nil {
			return fmt.Errorf("config %s: %w", name, err)
		}
	}
	if c.MpesaEnabled() || c.Server.Env == "production" {
		if err := v.Struct(c.Mpesa); err != nil {
			return fmt.Errorf("config mpesa: %w", err)
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
