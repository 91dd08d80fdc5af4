package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	minGatewayTimeout = 10 * time.Second
	maxGatewayTimeout = 30 * time.Second
)

// Config holds every setting read from the environment
type Config struct {
	Env                     string
	Port                    string
	AppURL                  string
	DatabaseURL             string
	RedisURL                string
	FirebaseCredentialsPath string
	LogMode                 string

	Payment  PaymentConfig
	SendGrid SendGridConfig

	OutlineCacheTTL       time.Duration
	WorkerSchedule        string
	CallbackRetentionDays int
}

// PaymentConfig selects and configures the payment gateway
type PaymentConfig struct {
	Gateway        string
	Currency       string
	GatewayTimeout time.Duration
	VerifyDelay    time.Duration

	SSLCommerz SSLCommerzConfig
	BKash      BKashConfig
	Midtrans   MidtransConfig
}

type SSLCommerzConfig struct {
	StoreID       string
	StorePassword string
	Sandbox       bool
}

type BKashConfig struct {
	BaseURL   string
	AppKey    string
	AppSecret string
	Username  string
	Password  string
}

type MidtransConfig struct {
	ServerKey  string
	ClientKey  string
	Production bool
}

type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// Load reads .env (when present) and the process environment
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment")
	}

	return &Config{
		Env:                     getEnv("ENV", "development"),
		Port:                    getEnv("PORT", "8080"),
		AppURL:                  strings.TrimRight(getEnv("APP_URL", "http://localhost:8080"), "/"),
		DatabaseURL:             os.Getenv("DATABASE_URL"),
		RedisURL:                os.Getenv("REDIS_URL"),
		FirebaseCredentialsPath: getEnv("FIREBASE_CREDENTIALS_PATH", "./firebase-service-account.json"),
		LogMode:                 getEnv("LOG_MODE", "development"),
		Payment: PaymentConfig{
			Gateway:        strings.ToLower(getEnv("PAYMENT_GATEWAY", "sslcommerz")),
			Currency:       getEnv("PAYMENT_CURRENCY", "BDT"),
			GatewayTimeout: ClampGatewayTimeout(getSeconds("GATEWAY_TIMEOUT_SECONDS", 20)),
			VerifyDelay:    getSeconds("PAYMENT_VERIFY_DELAY_SECONDS", 5),
			SSLCommerz: SSLCommerzConfig{
				StoreID:       os.Getenv("SSLCOMMERZ_STORE_ID"),
				StorePassword: os.Getenv("SSLCOMMERZ_STORE_PASSWORD"),
				Sandbox:       getBool("SSLCOMMERZ_SANDBOX", true),
			},
			BKash: BKashConfig{
				BaseURL:   getEnv("BKASH_BASE_URL", "https://tokenized.sandbox.bka.sh/v1.2.0-beta"),
				AppKey:    os.Getenv("BKASH_APP_KEY"),
				AppSecret: os.Getenv("BKASH_APP_SECRET"),
				Username:  os.Getenv("BKASH_USERNAME"),
				Password:  os.Getenv("BKASH_PASSWORD"),
			},
			Midtrans: MidtransConfig{
				ServerKey:  os.Getenv("MIDTRANS_SERVER_KEY"),
				ClientKey:  os.Getenv("MIDTRANS_CLIENT_KEY"),
				Production: getBool("MIDTRANS_IS_PRODUCTION", false),
			},
		},
		SendGrid: SendGridConfig{
			APIKey:    os.Getenv("SENDGRID_API_KEY"),
			FromEmail: getEnv("SENDGRID_FROM_EMAIL", "no-reply@localhost"),
			FromName:  getEnv("SENDGRID_FROM_NAME", "Course Market"),
		},
		OutlineCacheTTL:       getSeconds("OUTLINE_CACHE_TTL_SECONDS", 60),
		WorkerSchedule:        getEnv("WORKER_SCHEDULE", "@every 1m"),
		CallbackRetentionDays: getInt("CALLBACK_RETENTION_DAYS", 90),
	}
}

// ClampGatewayTimeout keeps gateway calls bounded between 10 and 30 seconds
func ClampGatewayTimeout(d time.Duration) time.Duration {
	if d < minGatewayTimeout {
		return minGatewayTimeout
	}
	if d > maxGatewayTimeout {
		return maxGatewayTimeout
	}
	return d
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getSeconds(key string, fallback int) time.Duration {
	return time.Duration(getInt(key, fallback)) * time.Second
}

func getBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
