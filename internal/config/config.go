// Package config gathers process configuration from the environment once at
// start-up. A .env file, when present, is loaded first.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is passed explicitly to every constructor that needs settings.
type Config struct {
	Port     string
	LogLevel string
	DBPath   string

	GeminiAPIKey        string
	GeminiAnalysisModel string
	GeminiModel         string
	GeminiImageModel    string
	PromptsDir          string

	WeatherBaseURL string

	SessionIdleTTL   time.Duration
	SessionSweepSpec string

	JWTSecret      string
	JWTExpiresDays int
	CookieName     string
	ClientOrigin   string
	Production     bool

	UsageBackend      string // "sqlite" or "supabase"
	UsageMonthlyLimit int
	SupabaseURL       string
	SupabaseKey       string

	RateLimitRPS   float64
	RateLimitBurst int
}

// Load reads .env (if any) and the process environment.
func Load() Config {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv reads the process environment only.
func FromEnv() Config {
	return Config{
		Port:     getEnv("PORT", "5175"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DBPath:   getEnv("DB_PATH", "./data/poco.db"),

		GeminiAPIKey:        os.Getenv("GEMINI_API_KEY"),
		GeminiAnalysisModel: os.Getenv("GEMINI_ANALYSIS_MODEL"),
		GeminiModel:         os.Getenv("GEMINI_MODEL"),
		GeminiImageModel:    os.Getenv("GEMINI_IMAGE_MODEL"),
		PromptsDir:          os.Getenv("PROMPTS_DIR"),

		WeatherBaseURL: getEnv("WEATHER_BASE_URL", "https://api.open-meteo.com"),

		SessionIdleTTL:   getDuration("SESSION_IDLE_TTL", 2*time.Hour),
		SessionSweepSpec: getEnv("SESSION_SWEEP_SPEC", "@every 5m"),

		JWTSecret:      getEnv("JWT_SECRET", "dev_secret_change_me"),
		JWTExpiresDays: getInt("JWT_EXPIRES_DAYS", 14),
		CookieName:     getEnv("COOKIE_NAME", "poco_token"),
		ClientOrigin:   getEnv("CLIENT_ORIGIN", "http://localhost:3000"),
		Production:     os.Getenv("NODE_ENV") == "production",

		UsageBackend:      getEnv("USAGE_BACKEND", "sqlite"),
		UsageMonthlyLimit: getInt("USAGE_MONTHLY_LIMIT", 0),
		SupabaseURL:       os.Getenv("SUPABASE_URL"),
		SupabaseKey:       os.Getenv("SUPABASE_KEY"),

		RateLimitRPS:   getFloat("RATE_LIMIT_RPS", 1),
		RateLimitBurst: getInt("RATE_LIMIT_BURST", 5),
	}
}

// getEnv returns the value of k or def if unset/empty.
func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getInt(k string, def int) int {
	if n, err := strconv.Atoi(os.Getenv(k)); err == nil {
		return n
	}
	return def
}

func getFloat(k string, def float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(k), 64); err == nil {
		return f
	}
	return def
}

func getDuration(k string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(k)); err == nil && d > 0 {
		return d
	}
	return def
}
