package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config stores the application configuration, loaded from environment
// variables with sensible defaults for local development.
type Config struct {
	ListenAddr string

	// FFmpeg / transcoding
	FFmpegPath             string
	FFprobePath            string
	DefaultAudioCodec      string
	DefaultAudioBitrate    string // e.g., "192k"
	DefaultSegmentDuration int    // seconds per segment
	AllowedFormats         []string
	ProcessingEnabled      bool
	TranscodingEnabled     bool

	// File layout
	UploadTempDir string // temporary storage for uploaded originals
	OutputDir     string // root for transcoded segment output (local publisher)
	OutputURLBase string // public URL base corresponding to OutputDir

	// Publisher selection: "local" or "minio"
	PublisherPlugin string

	// Ingestion queue
	QueueName      string
	WorkerCount    int
	MaxRetries     int
	RetryBaseDelay time.Duration

	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// MinIO
	MinioEndpoint      string
	MinioAccessKey     string
	MinioSecretKey     string
	MinioBucket        string
	MinioUseSSL        bool
	MinioPublicURLBase string

	// Logging
	LogLevel      string
	LogPath       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

// getEnvBool gets an environment variable as bool or returns a default value.
func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return fallback
}

// getEnvDuration gets an environment variable as a duration in seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return fallback
}

// getEnvList gets a comma-separated environment variable as a string slice.
func getEnvList(key string, fallback []string) []string {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, strings.ToUpper(trimmed))
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() will not override variables already set in the environment.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on existing environment variables and defaults.")
	}

	return &Config{
		ListenAddr: getEnv("LISTEN_ADDR", ":8080"),

		FFmpegPath:             getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:            getEnv("FFPROBE_PATH", "ffprobe"),
		DefaultAudioCodec:      getEnv("AUDIO_CODEC", "aac"),
		DefaultAudioBitrate:    getEnv("AUDIO_BITRATE", "192k"),
		DefaultSegmentDuration: getEnvInt("SEGMENT_DURATION", 10),
		AllowedFormats:         getEnvList("ALLOWED_FORMATS", []string{"HLS", "DASH"}),
		ProcessingEnabled:      getEnvBool("PROCESSING_ENABLED", true),
		TranscodingEnabled:     getEnvBool("TRANSCODING_ENABLED", true),

		UploadTempDir: getEnv("UPLOAD_TEMP_DIR", "data/temp_uploads"),
		OutputDir:     getEnv("OUTPUT_DIR", "data/processed_audio"),
		OutputURLBase: getEnv("OUTPUT_URL_BASE", "/processed/"),

		PublisherPlugin: getEnv("PUBLISHER_PLUGIN", "local"),

		QueueName:      getEnv("INGEST_QUEUE_NAME", "soniqfm:ingest"),
		WorkerCount:    getEnvInt("INGEST_WORKERS", 2),
		MaxRetries:     getEnvInt("INGEST_MAX_RETRIES", 3),
		RetryBaseDelay: getEnvDuration("INGEST_RETRY_BASE_DELAY", 60*time.Second),

		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     getEnv("DB_NAME", "soniqfm"),

		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		MinioEndpoint:      getEnv("MINIO_ENDPOINT", "127.0.0.1:9000"),
		MinioAccessKey:     os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey:     os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:        getEnv("MINIO_BUCKET", "soniqfm"),
		MinioUseSSL:        getEnvBool("MINIO_USE_SSL", false),
		MinioPublicURLBase: getEnv("MINIO_PUBLIC_URL_BASE", ""),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogPath:       getEnv("LOG_PATH", ""),
		LogMaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 100),
		LogMaxBackups: getEnvInt("LOG_MAX_BACKUPS", 3),
		LogMaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 14),
	}
}

// FormatAllowed reports whether the given output format is permitted.
func (c *Config) FormatAllowed(format string) bool {
	for _, f := range c.AllowedFormats {
		if strings.EqualFold(f, format) {
			return true
		}
	}
	return false
}
