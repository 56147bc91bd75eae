package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration (env + Viper).
type Config struct {
	Env                 string
	Port                string
	SessionSecret       string
	DatabaseURL         string
	RedisURL            string
	LedgerBackend       string // "solana" or "memory" (dev/test)
	SolanaRPCURL        string
	PoolProgramID       string
	LedgerFeePayerKey   string // base58 private key of the service fee payer
	LedgerTimeout       time.Duration
	ReconcileInterval   time.Duration // background sweep period; 0 disables
	StripeSecretKey     string
	StripeWebhookSecret string
	PinataJWT           string // IPFS pinning service token
	PinataBaseURL       string
	IPFSGatewayURL      string // public gateway used for display links
	FrontendURLEndsWith string
	DevPassword         string
	AllowCrossSiteDev   bool
	HealthAdminKey      string
	SendinblueAPIKey    string // SENDINBLUE_API_KEY for investor notification emails (Brevo)
	MailFrom            string // MAIL_FROM sender email (default noreply@wekeza.africa)
}

// Load loads config from env and optional .env file.
func Load() (*Config, error) {
	viper.SetConfigFile(".env")
	_ = viper.ReadInConfig()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	port := viper.GetString("PORT")
	if port == "" {
		port = "8080"
	}
	env := viper.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	dbURL := viper.GetString("DATABASE_URL_DEV")
	if env == "production" {
		dbURL = viper.GetString("DATABASE_URL_PROD")
	} else if env == "test" {
		dbURL = viper.GetString("DATABASE_URL_TEST")
	}
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL_DEV")
	}

	backend := strings.ToLower(viper.GetString("LEDGER_BACKEND"))
	if backend == "" {
		backend = "solana"
	}

	ledgerTimeout := viper.GetInt("LEDGER_TIMEOUT_MS")
	if ledgerTimeout <= 0 {
		ledgerTimeout = 90000
	}
	reconcileMinutes := viper.GetInt("RECONCILE_INTERVAL_MINUTES")

	return &Config{
		Env:                 env,
		Port:                port,
		SessionSecret:       viper.GetString("SESSION_SECRET"),
		DatabaseURL:         dbURL,
		RedisURL:            viper.GetString("REDIS_URL"),
		LedgerBackend:       backend,
		SolanaRPCURL:        viper.GetString("SOLANA_RPC_URL"),
		PoolProgramID:       viper.GetString("POOL_PROGRAM_ID"),
		LedgerFeePayerKey:   viper.GetString("LEDGER_FEE_PAYER_KEY"),
		LedgerTimeout:       time.Duration(ledgerTimeout) * time.Millisecond,
		ReconcileInterval:   time.Duration(reconcileMinutes) * time.Minute,
		StripeSecretKey:     viper.GetString("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: viper.GetString("STRIPE_WEBHOOK_SECRET"),
		PinataJWT:           viper.GetString("PINATA_JWT"),
		PinataBaseURL:       viper.GetString("PINATA_BASE_URL"),
		IPFSGatewayURL:      viper.GetString("IPFS_GATEWAY_URL"),
		FrontendURLEndsWith: viper.GetString("FRONTEND_URL_ENDS_WITH"),
		DevPassword:         viper.GetString("DEV_PASSWORD"),
		AllowCrossSiteDev:   strings.EqualFold(viper.GetString("ALLOW_CROSS_SITE_DEV"), "true"),
		HealthAdminKey:      viper.GetString("HEALTH_ADMIN_KEY"),
		SendinblueAPIKey:    viper.GetString("SENDINBLUE_API_KEY"),
		MailFrom:            viper.GetString("MAIL_FROM"),
	}, nil
}
