package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr        string
	Secret      string
	SessionTTL  time.Duration
	DataFile    string
	StaticDir   string
	CORSOrigin  string
	WriteMode   string
	RateLimit   float64
	LogLevel    string
	LogFormat   string
	RedisURL    string
	PulseToken  string
	PulseTarget []string
	PulseEvery  time.Duration

	// Remote document store
	RemoteDriver string
	GitHubToken  string
	GitHubRepo   string
	GitHubBranch string
	GitHubPath   string
	GitHubAPIURL string
	GitDir       string
	GitAuthor    string
	S3Endpoint   string
	S3Bucket     string
	S3Key        string
	S3AccessKey  string
	S3SecretKey  string
	S3Region     string
	S3UseSSL     bool
	DatabaseURL  string
	DocumentPath string

	// Assignment notices
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string
}

// Load reads the environment, after applying a .env file when one exists.
func Load() Config {
	_ = godotenv.Load()
	return FromEnv()
}

func FromEnv() Config {
	cfg := Config{
		Addr:        getenv("API_ADDR", ":4001"),
		Secret:      getenv("TOMORROW_SECRET", ""),
		SessionTTL:  time.Duration(getenvInt("TOMORROW_SESSION_TTL_SECONDS", 43200)) * time.Second,
		DataFile:    getenv("TOMORROW_DATA_FILE", "./data.json"),
		StaticDir:   getenv("TOMORROW_STATIC_DIR", "."),
		CORSOrigin:  getenv("TOMORROW_CORS_ORIGIN", "*"),
		WriteMode:   getenv("TOMORROW_WRITE_MODE", "serialized"),
		RateLimit:   getenvFloat("TOMORROW_RATE_LIMIT_RPS", 5),
		LogLevel:    getenv("TOMORROW_LOG_LEVEL", "info"),
		LogFormat:   getenv("TOMORROW_LOG_FORMAT", "json"),
		RedisURL:    getenv("REDIS_URL", ""),
		PulseToken:  getenv("PULSE_TOKEN", ""),
		PulseTarget: getenvList("PULSE_TARGETS"),
		PulseEvery:  time.Duration(getenvInt("PULSE_INTERVAL_SECONDS", 300)) * time.Second,

		RemoteDriver: getenv("TOMORROW_REMOTE_DRIVER", ""),
		GitHubToken:  getenv("GITHUB_TOKEN", ""),
		GitHubRepo:   getenv("GITHUB_REPO", ""),
		GitHubBranch: getenv("GITHUB_BRANCH", "main"),
		GitHubPath:   getenv("GITHUB_DB_PATH", "data/db.json"),
		GitHubAPIURL: getenv("GITHUB_API_URL", "https://api.github.com"),
		GitDir:       getenv("TOMORROW_GIT_DIR", "./data/repo"),
		GitAuthor:    getenv("TOMORROW_GIT_AUTHOR", "Tomorrow"),
		S3Endpoint:   getenv("S3_ENDPOINT", ""),
		S3Bucket:     getenv("S3_BUCKET", ""),
		S3Key:        getenv("S3_KEY", "db.json"),
		S3AccessKey:  getenv("S3_ACCESS_KEY", ""),
		S3SecretKey:  getenv("S3_SECRET_KEY", ""),
		S3Region:     getenv("S3_REGION", ""),
		S3UseSSL:     getenvBool("S3_USE_SSL", true),
		DatabaseURL:  getenv("DATABASE_URL", ""),
		DocumentPath: getenv("TOMORROW_DOCUMENT_PATH", "main"),

		SMTPHost:     getenv("SMTP_HOST", ""),
		SMTPPort:     getenv("SMTP_PORT", "587"),
		SMTPUsername: getenv("SMTP_USERNAME", ""),
		SMTPPassword: getenv("SMTP_PASSWORD", ""),
		SMTPFrom:     getenv("SMTP_FROM", ""),
		SMTPFromName: getenv("SMTP_FROM_NAME", "Tomorrow"),
	}
	if cfg.RemoteDriver == "" && cfg.GitHubToken != "" && cfg.GitHubRepo != "" {
		cfg.RemoteDriver = "github"
	}
	return cfg
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
