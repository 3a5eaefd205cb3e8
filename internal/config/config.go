package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Default tuning values. The similarity thresholds are calibrated for the
// histogram/LBP descriptor and are not universal constants.
const (
	DefaultMinFaceSizePx             = 80
	DefaultMaxFacesPerImage          = 10
	DefaultLivenessMinFrames         = 5
	DefaultLivenessMotionThreshold   = 0.02
	DefaultLivenessTextureThreshold  = 0.30
	DefaultThresholdHighConfidence   = 0.40
	DefaultThresholdMediumConfidence = 0.30
	DefaultEmbeddingDim              = 512
	DefaultMinLightingScore          = 0.3
	DefaultMaxBlurScore              = 0.7
	DefaultMaxImageSizeMB            = 10
)

// Config carries every runtime tunable for the verification engine.
type Config struct {
	// Face detection
	MinFaceSizePx    int
	MaxFacesPerImage int
	CascadePath      string

	// Liveness
	LivenessMinFrames        int
	LivenessMotionThreshold  float64
	LivenessTextureThreshold float64

	// Matching
	ThresholdHighConfidence   float64
	ThresholdMediumConfidence float64
	EmbeddingDim              int

	// Image quality gates. These are surfaced as diagnostics only and are
	// never enforced by the pipeline.
	MinLightingScore float64
	MaxBlurScore     float64

	// Upload limits
	MaxImageSizeMB    int
	AllowedImageMIMEs []string

	// Infrastructure
	DatabaseDSN string
	RedisAddr   string
	ListenAddr  string
	JWTSecret   string
	JWTAudience string
}

// Load reads configuration from the environment. A missing .env file is not
// an error; deployed environments set variables directly.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		MinFaceSizePx:    getEnvInt("MIN_FACE_SIZE_PX", DefaultMinFaceSizePx),
		MaxFacesPerImage: getEnvInt("MAX_FACES_PER_IMAGE", DefaultMaxFacesPerImage),
		CascadePath:      getEnv("FACE_CASCADE_PATH", "./models/facefinder"),

		LivenessMinFrames:        getEnvInt("LIVENESS_MIN_FRAMES", DefaultLivenessMinFrames),
		LivenessMotionThreshold:  getEnvFloat("LIVENESS_MOTION_THRESHOLD", DefaultLivenessMotionThreshold),
		LivenessTextureThreshold: getEnvFloat("LIVENESS_TEXTURE_THRESHOLD", DefaultLivenessTextureThreshold),

		ThresholdHighConfidence:   getEnvFloat("THRESHOLD_HIGH_CONFIDENCE", DefaultThresholdHighConfidence),
		ThresholdMediumConfidence: getEnvFloat("THRESHOLD_MEDIUM_CONFIDENCE", DefaultThresholdMediumConfidence),
		EmbeddingDim:              getEnvInt("EMBEDDING_DIM", DefaultEmbeddingDim),

		MinLightingScore: getEnvFloat("MIN_LIGHTING_SCORE", DefaultMinLightingScore),
		MaxBlurScore:     getEnvFloat("MAX_BLUR_SCORE", DefaultMaxBlurScore),

		MaxImageSizeMB:    getEnvInt("MAX_IMAGE_SIZE_MB", DefaultMaxImageSizeMB),
		AllowedImageMIMEs: []string{"image/jpeg", "image/png", "image/jpg"},

		DatabaseDSN: getEnv("DATABASE_DSN", "host=postgres user=postgres password=postgres dbname=faceid port=5432 sslmode=disable"),
		RedisAddr:   getEnv("REDIS_ADDR", "redis:6379"),
		ListenAddr:  getEnv("LISTEN_ADDR", ":8080"),
		JWTSecret:   getEnv("JWT_SECRET", "dev-secret"),
		JWTAudience: os.Getenv("JWT_AUDIENCE"),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}
