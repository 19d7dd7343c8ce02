// Package config loads environment-driven settings for the trading agent,
// following the teacher's .env-plus-typed-defaults pattern.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds every environment-driven setting the agent reads at startup.
type Config struct {
	// Tradovate broker credentials
	TradovateUsername string
	TradovatePassword string
	TradovateAppID    string
	TradovateCID      string
	TradovateSecret   string

	// Sentiment pipeline
	GeminiAPIKey        string
	MicroBlogBearerToken string
	ForumClientID        string
	ForumClientSecret    string
	ForumUserAgent       string
	NewsAPIKey           string
	AlphaVantageAPIKey   string

	// HTTP facade
	ServerHost string
	ServerPort string
	JWTSecret  string

	// Trading parameters
	DefaultSymbols       []string
	ConfidenceThreshold  float64
	MaxDailyLoss         float64
	MaxTradesPerDay      int
	CooldownSeconds      int
	MaxPositionSize      int

	// Sentiment source weights
	TwitterWeight float64
	RedditWeight  float64
	NewsWeight    float64

	// Persistence / logging
	DatabaseURL string
	LogLevel    string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		TradovateUsername: os.Getenv("TRADOVATE_USERNAME"),
		TradovatePassword: os.Getenv("TRADOVATE_PASSWORD"),
		TradovateAppID:    os.Getenv("TRADOVATE_APP_ID"),
		TradovateCID:      os.Getenv("TRADOVATE_CID"),
		TradovateSecret:   os.Getenv("TRADOVATE_SECRET"),

		GeminiAPIKey:         os.Getenv("GEMINI_API_KEY"),
		MicroBlogBearerToken: os.Getenv("MICROBLOG_BEARER_TOKEN"),
		ForumClientID:        os.Getenv("FORUM_CLIENT_ID"),
		ForumClientSecret:    os.Getenv("FORUM_CLIENT_SECRET"),
		ForumUserAgent:       getEnv("FORUM_USER_AGENT", "futures-agent/1.0"),
		NewsAPIKey:           os.Getenv("NEWS_API_KEY"),
		AlphaVantageAPIKey:   os.Getenv("ALPHA_VANTAGE_API_KEY"),

		ServerHost: getEnv("SERVER_HOST", "0.0.0.0"),
		ServerPort: getEnv("SERVER_PORT", "8080"),
		JWTSecret:  getEnv("JWT_SECRET", "dev-secret"),

		DefaultSymbols:      splitAndTrim(getEnv("DEFAULT_SYMBOLS", "MNQ")),
		ConfidenceThreshold: getEnvFloat("CONFIDENCE_THRESHOLD", 0.55),
		MaxDailyLoss:        getEnvFloat("MAX_DAILY_LOSS", 500),
		MaxTradesPerDay:     getEnvInt("MAX_TRADES_PER_DAY", 20),
		CooldownSeconds:     getEnvInt("COOLDOWN_SECONDS", 30),
		MaxPositionSize:     getEnvInt("MAX_POSITION_SIZE", 5),

		TwitterWeight: getEnvFloat("TWITTER_WEIGHT", 1.0),
		RedditWeight:  getEnvFloat("REDDIT_WEIGHT", 1.0),
		NewsWeight:    getEnvFloat("NEWS_WEIGHT", 1.0),

		DatabaseURL: getEnv("DATABASE_URL", "./data/journal.db"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
