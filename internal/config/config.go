package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the process-wide settings bag, loaded once at startup. Per-user
// provider credentials live in the api_keys table, not here — Config only
// carries infrastructure endpoints, ambient tuning, and optional
// server-owned credentials (the transcription key and the Gemini key).
type Config struct {
	// Server
	APIPort            string
	BackendAPIKey      string // static key for authenticating inbound requests; empty = no auth, dev mode
	CorsAllowedOrigins string // comma-separated allowed origins; empty = *, dev mode

	// Database
	DatabaseURL string

	// APIKeyEncryptionKey decrypts api_keys.ciphertext at call time (AES-256-GCM,
	// see internal/crypto). 32 raw bytes, hex-encoded in the environment.
	APIKeyEncryptionKey []byte

	// Redis-backed Scheduler
	RedisURL string

	// ObjectStore (Supabase Storage)
	SupabaseURL           string
	SupabaseServiceKey    string
	SupabaseStorageBucket string

	// ProviderGateway tuning
	GatewayKeyConcurrency int // in-flight requests permitted per API key

	// Transcriber (C4): Whisper-shaped transcription call, external to the
	// per-user provider keys in the api_keys table — this is a server-owned
	// credential, not something users bring their own of.
	OpenAIKey string

	// Gemini (image generation + optional Veo motion)
	GeminiKey                 string
	GeminiStyleReferenceImage string

	// Veo motion provider (optional; falls back to zoompan when disabled)
	VeoEnabled bool
	VeoModel   string

	// xAI motion provider (optional alternative to Veo)
	XAIEnabled bool
	XAIAPIKey  string

	// Compositor / FFmpeg
	FFmpegTempDir       string
	BackgroundMusicPath string
	ClipRenderTimeout   time.Duration // per-sentence-clip ffmpeg timeout; loaded but not applied by the Compositor
	ConcatTimeout       time.Duration // final concat ffmpeg timeout; loaded but not applied by the Compositor

	// VideoTaskRunner
	WorkerPoolSize   int // bounded in-process concurrency per video task
	SchedulerWorkers int // number of Scheduler dequeue loops
	SoftTaskDeadline time.Duration
	HardTaskDeadline time.Duration

	// WebSocket surface
	WebSocketEnabled bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		APIPort:               getEnv("API_PORT", "8080"),
		BackendAPIKey:         getEnv("BACKEND_API_KEY", ""),
		CorsAllowedOrigins:    getEnv("CORS_ALLOWED_ORIGINS", ""),
		DatabaseURL:           getEnv("DATABASE_URL", ""),
		RedisURL:              getEnv("REDIS_URL", "redis://localhost:6379"),
		SupabaseURL:           getEnv("SUPABASE_URL", ""),
		SupabaseServiceKey:    getEnv("SUPABASE_SERVICE_KEY", ""),
		SupabaseStorageBucket: getEnv("SUPABASE_STORAGE_BUCKET", "inkframe-videos"),
		GatewayKeyConcurrency: getEnvInt("GATEWAY_KEY_CONCURRENCY", 5),
		OpenAIKey:             getEnv("OPENAI_API_KEY", ""),
		GeminiKey:                 getEnv("GEMINI_API_KEY", ""),
		GeminiStyleReferenceImage: getEnv("GEMINI_STYLE_REFERENCE_IMAGE", "assets/style-reference/sample.jpeg"),
		VeoEnabled:            getEnvBool("VEO_ENABLED", false),
		VeoModel:              getEnv("VEO_MODEL", "veo-3.1-generate-preview"),
		XAIEnabled:            getEnvBool("XAI_VIDEO_ENABLED", false),
		XAIAPIKey:             getEnv("XAI_API_KEY", ""),
		FFmpegTempDir:         getEnv("FFMPEG_TEMP_DIR", "/tmp/inkframe"),
		BackgroundMusicPath:   getEnv("BACKGROUND_MUSIC_PATH", "assets/music/music.mp3"),
		ClipRenderTimeout:     time.Duration(getEnvInt("CLIP_RENDER_TIMEOUT_SECONDS", 300)) * time.Second,
		ConcatTimeout:         time.Duration(getEnvInt("CONCAT_TIMEOUT_SECONDS", 600)) * time.Second,
		WorkerPoolSize:        getEnvInt("WORKER_POOL_SIZE", 3),
		SchedulerWorkers:      getEnvInt("SCHEDULER_WORKERS", 3),
		SoftTaskDeadline:      time.Duration(getEnvInt("SOFT_TASK_DEADLINE_SECONDS", 480)) * time.Second,
		HardTaskDeadline:      time.Duration(getEnvInt("HARD_TASK_DEADLINE_SECONDS", 600)) * time.Second,
		WebSocketEnabled:      getEnvBool("WEBSOCKET_ENABLED", true),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.SupabaseURL == "" || cfg.SupabaseServiceKey == "" {
		return nil, fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_KEY are required")
	}

	keyHex := getEnv("API_KEY_ENCRYPTION_KEY", "")
	if keyHex == "" {
		return nil, fmt.Errorf("API_KEY_ENCRYPTION_KEY is required")
	}
	rawKey, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("API_KEY_ENCRYPTION_KEY must be hex-encoded: %w", err)
	}
	if len(rawKey) != 32 {
		return nil, fmt.Errorf("API_KEY_ENCRYPTION_KEY must decode to 32 bytes (AES-256), got %d", len(rawKey))
	}
	cfg.APIKeyEncryptionKey = rawKey

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}
