package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// placeholderTreasury stands in for the real treasury wallet outside
// production so local development works without funded keys.
const placeholderTreasury = "11111111111111111111111111111111"

type Config struct {
	ListenAddr string
	LogLevel   string
	Env        string // "production" enables strict treasury validation

	DBDSN string

	// Payment settings.
	Network           string
	TreasuryAddress   string
	AssetMint         string
	FeePayer          string
	FacilitatorURL    string
	MaxTimeoutSeconds int

	// Per-model price overrides, smallest currency units. Empty keeps the
	// built-in default.
	PriceDeepseek     string
	PriceOpenAI       string
	PriceOpenAIVision string
	PriceClaude       string
	PriceClaudeVision string

	// Provider credentials and endpoints.
	DeepseekAPIKey   string
	DeepseekBaseURL  string
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	AnthropicAPIKey  string
	AnthropicBaseURL string

	ProviderTimeoutSecs int

	// Security & hardening.
	AdminTokenHash string   // bcrypt hash guarding /admin/v1; empty disables
	CORSOrigins    []string // allowed CORS origins; empty = ["*"]
	RateLimitRPS   int      // requests per second per IP
	RateLimitBurst int      // burst capacity per IP

	// Tracing.
	TracingEnabled  bool
	TracingEndpoint string
}

func LoadConfig() (Config, error) {
	cfg := Config{
		ListenAddr: getEnv("CHATGATE_LISTEN_ADDR", ":8080"),
		LogLevel:   getEnv("CHATGATE_LOG_LEVEL", "info"),
		Env:        getEnv("CHATGATE_ENV", "development"),

		DBDSN: getEnv("CHATGATE_DB_DSN", "file:chatgate.sqlite"),

		Network:           getEnv("CHATGATE_NETWORK", "solana-devnet"),
		TreasuryAddress:   getEnv("CHATGATE_TREASURY_ADDRESS", ""),
		AssetMint:         getEnv("CHATGATE_ASSET_MINT", "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"),
		FeePayer:          getEnv("CHATGATE_FEE_PAYER", ""),
		FacilitatorURL:    getEnv("CHATGATE_FACILITATOR_URL", "https://facilitator.payai.network"),
		MaxTimeoutSeconds: getEnvInt("CHATGATE_MAX_TIMEOUT_SECS", 60),

		PriceDeepseek:     getEnv("CHATGATE_PRICE_DEEPSEEK", ""),
		PriceOpenAI:       getEnv("CHATGATE_PRICE_OPENAI", ""),
		PriceOpenAIVision: getEnv("CHATGATE_PRICE_OPENAI_VISION", ""),
		PriceClaude:       getEnv("CHATGATE_PRICE_CLAUDE", ""),
		PriceClaudeVision: getEnv("CHATGATE_PRICE_CLAUDE_VISION", ""),

		DeepseekAPIKey:   getEnv("CHATGATE_DEEPSEEK_API_KEY", ""),
		DeepseekBaseURL:  getEnv("CHATGATE_DEEPSEEK_BASE_URL", "https://api.deepseek.com"),
		OpenAIAPIKey:     getEnv("CHATGATE_OPENAI_API_KEY", ""),
		OpenAIBaseURL:    getEnv("CHATGATE_OPENAI_BASE_URL", "https://api.openai.com/v1"),
		AnthropicAPIKey:  getEnv("CHATGATE_ANTHROPIC_API_KEY", ""),
		AnthropicBaseURL: getEnv("CHATGATE_ANTHROPIC_BASE_URL", "https://api.anthropic.com/v1"),

		ProviderTimeoutSecs: getEnvInt("CHATGATE_PROVIDER_TIMEOUT_SECS", 120),

		AdminTokenHash: getEnv("CHATGATE_ADMIN_TOKEN_HASH", ""),
		CORSOrigins:    getEnvStringSlice("CHATGATE_CORS_ORIGINS", nil),
		RateLimitRPS:   getEnvInt("CHATGATE_RATE_LIMIT_RPS", 60),
		RateLimitBurst: getEnvInt("CHATGATE_RATE_LIMIT_BURST", 120),

		TracingEnabled:  getEnvBool("CHATGATE_TRACING_ENABLED", false),
		TracingEndpoint: getEnv("CHATGATE_TRACING_ENDPOINT", "localhost:4318"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks config values for obviously invalid settings. A missing
// treasury address is fatal in production and a placeholder elsewhere.
func (c Config) Validate() error {
	if c.TreasuryAddress == "" && c.Env == "production" {
		return fmt.Errorf("CHATGATE_TREASURY_ADDRESS is required when CHATGATE_ENV=production")
	}
	if c.Network != "solana" && c.Network != "solana-devnet" {
		return fmt.Errorf("CHATGATE_NETWORK must be solana or solana-devnet, got %q", c.Network)
	}
	if c.MaxTimeoutSeconds <= 0 {
		return fmt.Errorf("CHATGATE_MAX_TIMEOUT_SECS must be > 0, got %d", c.MaxTimeoutSeconds)
	}
	if c.RateLimitRPS <= 0 {
		return fmt.Errorf("CHATGATE_RATE_LIMIT_RPS must be > 0, got %d", c.RateLimitRPS)
	}
	if c.RateLimitBurst <= 0 {
		return fmt.Errorf("CHATGATE_RATE_LIMIT_BURST must be > 0, got %d", c.RateLimitBurst)
	}
	if c.ProviderTimeoutSecs <= 0 {
		return fmt.Errorf("CHATGATE_PROVIDER_TIMEOUT_SECS must be > 0, got %d", c.ProviderTimeoutSecs)
	}
	return nil
}

// Treasury returns the configured treasury address, substituting the
// development placeholder when unset outside production.
func (c Config) Treasury() string {
	if c.TreasuryAddress != "" {
		return c.TreasuryAddress
	}
	return placeholderTreasury
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

func getEnvStringSlice(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		var result []string
		for _, s := range strings.Split(v, ",") {
			s = strings.TrimSpace(s)
			if s != "" {
				result = append(result, s)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return def
}
