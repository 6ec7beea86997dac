package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ListenAddr    string
	DBPath        string
	MediaPath     string
	MediaBaseURL  string
	LogLevel      string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int

	NotifyWebhookURL string
	NotifyTimeout    time.Duration

	UploadConcurrency int
	UploadRate        float64
	PhotoMaxDimension int

	ProvisionMaxAttempts int
	ProvisionBackoff     time.Duration
	SaveDebounce         time.Duration
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; variables already set win.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		ListenAddr:    getEnv("LISTEN_ADDR", ":8080"),
		DBPath:        getEnv("DB_PATH", "/data/checklists.db"),
		MediaPath:     getEnv("MEDIA_PATH", "/data/media"),
		MediaBaseURL:  getEnv("MEDIA_BASE_URL", "http://localhost:8080/media"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFile:       getEnv("LOG_FILE", ""),
		LogMaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 50),
		LogMaxBackups: getEnvInt("LOG_MAX_BACKUPS", 3),

		NotifyWebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),
		NotifyTimeout:    getEnvDuration("NOTIFY_TIMEOUT", 5*time.Second),

		UploadConcurrency: getEnvInt("UPLOAD_CONCURRENCY", 4),
		UploadRate:        getEnvFloat("UPLOAD_RATE", 10),
		PhotoMaxDimension: getEnvInt("PHOTO_MAX_DIMENSION", 2048),

		ProvisionMaxAttempts: getEnvInt("PROVISION_MAX_ATTEMPTS", 5),
		ProvisionBackoff:     getEnvDuration("PROVISION_BACKOFF", 200*time.Millisecond),
		SaveDebounce:         getEnvDuration("SAVE_DEBOUNCE", 750*time.Millisecond),
	}
}

func getEnv(key, defaultVal string) string {
	if val, exists := os.LookupEnv(key); exists {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(val); err == nil && n >= 0 {
			return n
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(val, 64); err == nil && f >= 0 {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(val); err == nil && d >= 0 {
			return d
		}
	}
	return defaultVal
}
