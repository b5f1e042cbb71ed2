package config

import (
	"os"
	"strconv"
)

var (
	// Storage backend selection: "local", "s3" or "oss"
	StorageProvider = getEnvWithDefault("STORAGE_PROVIDER", "local")

	// S3 configuration
	S3Region      = getEnvWithDefault("AWS_REGION", "auto")
	S3Bucket      = os.Getenv("S3_BUCKET")
	S3AccessKey   = os.Getenv("AWS_ACCESS_KEY_ID")
	S3SecretKey   = os.Getenv("AWS_SECRET_ACCESS_KEY")
	S3EndpointURL = os.Getenv("AWS_ENDPOINT_URL")

	// OSS configuration (S3-compatible endpoint)
	OSSBucket    = os.Getenv("OSS_BUCKET")
	OSSEndpoint  = os.Getenv("OSS_ENDPOINT")
	OSSAccessKey = os.Getenv("OSS_ACCESS_KEY_ID")
	OSSSecretKey = os.Getenv("OSS_ACCESS_KEY_SECRET")
	OSSRegion    = getEnvWithDefault("OSS_REGION", "oss-us-west-1")

	// Local directories
	UploadsDir = getEnvWithDefault("UPLOADS_DIR", "uploads")
	OutputDir  = getEnvWithDefault("OUTPUT_DIR", "output")

	// Redis (queue + state store)
	RedisHost     = getEnvWithDefault("REDIS_HOST", "localhost")
	RedisPort     = getEnvInt("REDIS_PORT", 6379)
	RedisDB       = getEnvInt("REDIS_DB", 0)
	RedisPassword = os.Getenv("REDIS_PASSWORD")

	// Task/upload rows
	DatabaseURL = getEnvWithDefault("DATABASE_URL", "slidespeaker.db")

	// HTTP
	Port     = getEnvWithDefault("PORT", "8080")
	AuthMode = getEnvWithDefault("AUTH_MODE", "session") // "session" or "auth0"

	// Auth0 (bearer-token mode)
	Auth0Domain   = os.Getenv("AUTH0_DOMAIN")
	Auth0Audience = os.Getenv("AUTH0_AUDIENCE")
	Auth0ClientID = os.Getenv("AUTH0_CLIENT_ID")

	// Feature flags
	EnableVisualAnalysis = getEnvBool("ENABLE_VISUAL_ANALYSIS", false)
	ProxyCloudMedia      = getEnvBool("PROXY_CLOUD_MEDIA", false)

	// Media tooling
	FFmpegPath = getEnvWithDefault("FFMPEG_PATH", "ffmpeg")

	// Upload limits
	MaxUploadBytes = int64(getEnvInt("MAX_UPLOAD_MB", 100)) * 1024 * 1024
)

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
