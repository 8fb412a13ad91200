package config

import (
	"os"
	"strconv"
	"strings"

	_ "github.com/joho/godotenv/autoload"
	"github.com/shopspring/decimal"
)

// ProviderCredentials holds one external payment provider's API settings.
// An empty SecretKey means the provider is unconfigured and checkout,
// verification and refunds against it must fail fast.
type ProviderCredentials struct {
	BaseURL       string
	SecretKey     string
	WebhookSecret string
	// WebhookStaticHash is the pre-shared hash some aggregators send
	// verbatim instead of signing the body. Distinct from WebhookSecret so
	// the signing key never doubles as a bearer value; empty disables the
	// fallback.
	WebhookStaticHash string
}

// SettlementConfig carries every tunable the coordinators need. It is
// loaded once at startup and passed explicitly so tests can run with
// fixed values instead of reading ambient state.
type SettlementConfig struct {
	PlatformFeeBps  int64
	TaxBps          int64
	MinPayoutAmount decimal.Decimal
	PayoutNetworks  []string

	CardNetwork ProviderCredentials
	MobileMoney ProviderCredentials

	CheckoutReturnURL string
	JWTSecret         string
	ListenAddr        string
}

func (c SettlementConfig) NetworkSupported(network string) bool {
	for _, n := range c.PayoutNetworks {
		if strings.EqualFold(n, network) {
			return true
		}
	}
	return false
}

// Load reads the settlement configuration from the environment. godotenv's
// autoload import has already merged a local .env file if one exists.
func Load() SettlementConfig {
	return SettlementConfig{
		PlatformFeeBps:  envInt("ESCROW_PLATFORM_FEE_BPS", 1000),
		TaxBps:          envInt("ESCROW_TAX_BPS", 500),
		MinPayoutAmount: envDecimal("ESCROW_MIN_PAYOUT", "10.00"),
		PayoutNetworks:  envList("ESCROW_PAYOUT_NETWORKS", "mtn,vodafone,airteltigo"),
		CardNetwork: ProviderCredentials{
			BaseURL:       envStr("CARDNETWORK_BASE_URL", "https://api.cardnetwork.example"),
			SecretKey:     os.Getenv("CARDNETWORK_SECRET_KEY"),
			WebhookSecret: os.Getenv("CARDNETWORK_WEBHOOK_SECRET"),
		},
		MobileMoney: ProviderCredentials{
			BaseURL:           envStr("MOBILEMONEY_BASE_URL", "https://api.mobilemoney.example"),
			SecretKey:         os.Getenv("MOBILEMONEY_SECRET_KEY"),
			WebhookSecret:     os.Getenv("MOBILEMONEY_WEBHOOK_SECRET"),
			WebhookStaticHash: os.Getenv("MOBILEMONEY_WEBHOOK_STATIC_HASH"),
		},
		CheckoutReturnURL: envStr("ESCROW_CHECKOUT_RETURN_URL", "http://localhost:3000/payments/return"),
		JWTSecret:         os.Getenv("ESCROW_JWT_SECRET"),
		ListenAddr:        envStr("ESCROW_LISTEN_ADDR", ":8080"),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envDecimal(key, fallback string) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	d, _ := decimal.NewFromString(fallback)
	return d
}

func envList(key, fallback string) []string {
	raw := envStr(key, fallback)
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
