package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr           string
	DatabaseURL    string
	JWTSecret      string
	AccessTTL      time.Duration
	RefreshTTL     time.Duration
	MigrationsDir  string
	CORSOrigin     string
	HistoryDir     string
	ProfileTimeout time.Duration
	ResyncInterval time.Duration
	// Redis holds refresh sessions and the last-known-good project snapshot.
	RedisURL    string
	SnapshotKey string
	// Search, empty URL disables Meilisearch and falls back to local matching
	MeiliURL       string
	MeiliMasterKey string
	// Attachment storage
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	// SMTP Configuration
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string
	LogLevel     string
	LogFile      string
	// BootstrapAdminPassword seeds the first admin account when no users exist.
	BootstrapAdminPassword string
}

// Load reads an optional .env file and then the process environment.
// Variables already set in the environment win over the file.
func Load(envFiles ...string) Config {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		_ = godotenv.Load(file)
	}

	return Config{
		Addr:                   getenv("API_ADDR", ":8787"),
		DatabaseURL:            getenv("DATABASE_URL", "postgres://kt:kt@localhost:5432/kt?sslmode=disable"),
		JWTSecret:              getenv("KT_JWT_SECRET", "kt-dev-secret"),
		AccessTTL:              time.Duration(getenvInt("KT_ACCESS_TTL_SECONDS", 900)) * time.Second,
		RefreshTTL:             time.Duration(getenvInt("KT_REFRESH_TTL_SECONDS", 2592000)) * time.Second,
		MigrationsDir:          getenv("KT_MIGRATIONS_DIR", "./db/migrations"),
		CORSOrigin:             getenv("KT_CORS_ORIGIN", "*"),
		HistoryDir:             getenv("KT_HISTORY_DIR", "./data/history"),
		ProfileTimeout:         time.Duration(getenvInt("KT_PROFILE_TIMEOUT_MS", 5000)) * time.Millisecond,
		ResyncInterval:         time.Duration(getenvInt("KT_RESYNC_INTERVAL_SECONDS", 300)) * time.Second,
		RedisURL:               getenv("REDIS_URL", "redis://localhost:6379/0"),
		SnapshotKey:            getenv("KT_SNAPSHOT_KEY", "kt:projects:snapshot"),
		MeiliURL:               getenv("MEILI_URL", ""),
		MeiliMasterKey:         getenv("MEILI_MASTER_KEY", ""),
		MinioEndpoint:          getenv("MINIO_ENDPOINT", ""),
		MinioAccessKey:         getenv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey:         getenv("MINIO_SECRET_KEY", ""),
		MinioBucket:            getenv("MINIO_BUCKET", "kt-attachments"),
		MinioUseSSL:            getenvBool("MINIO_USE_SSL", false),
		SMTPHost:               getenv("SMTP_HOST", ""),
		SMTPPort:               getenv("SMTP_PORT", "587"),
		SMTPUsername:           getenv("SMTP_USERNAME", ""),
		SMTPPassword:           getenv("SMTP_PASSWORD", ""),
		SMTPFrom:               getenv("SMTP_FROM", ""),
		SMTPFromName:           getenv("SMTP_FROM_NAME", "KT Tracker"),
		LogLevel:               getenv("LOG_LEVEL", "info"),
		LogFile:                getenv("LOG_FILE", ""),
		BootstrapAdminPassword: getenv("KT_BOOTSTRAP_ADMIN_PASSWORD", ""),
	}
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

func getenvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
