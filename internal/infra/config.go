package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv        string
	Port          string
	PublicBaseURL string
	StoragePath   string

	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string
	OpenAIOrg     string

	DiffusionBaseURL string
	TTSAPIKey        string
	TTSBaseURL       string
	TTSVoiceID       string
	RenderBaseURL    string

	MaxScenes        int
	StrictSceneCap   bool
	SceneConcurrency int
	RetryCount       int
	RetryBase        time.Duration
	RetryFactor      float64
	RetryJitter      float64

	StoryTimeout    time.Duration
	ImageTimeout    time.Duration
	VoiceTimeout    time.Duration
	AssembleTimeout time.Duration
	JobBudget       time.Duration
	JobTTL          time.Duration

	ImageLimit int
	VoiceLimit int
	VideoLimit int

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	AllowedOrigins   []string
}

// LoadConfig loads configuration from environment variables and applies
// defaults where needed. Range violations are configuration errors, not
// silently clamped.
func LoadConfig() (*Config, error) {
	port := getEnv("PORT", "8080")
	cfg := &Config{
		AppEnv:        getEnv("APP_ENV", "development"),
		Port:          port,
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", "http://localhost:"+port+"/static"),
		StoragePath:   getEnv("STORAGE_PATH", "./storage"),

		OpenAIAPIKey:  os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIOrg:     os.Getenv("OPENAI_ORG"),

		DiffusionBaseURL: getEnv("DIFFUSION_BASE_URL", "http://localhost:8081"),
		TTSAPIKey:        os.Getenv("TTS_API_KEY"),
		TTSBaseURL:       getEnv("TTS_BASE_URL", "https://api.elevenlabs.io"),
		TTSVoiceID:       getEnv("TTS_VOICE_ID", "narrator"),
		RenderBaseURL:    getEnv("RENDER_BASE_URL", "http://localhost:8082"),

		MaxScenes:        getEnvInt("MAX_SCENES", 4),
		StrictSceneCap:   getEnvBool("STRICT_SCENE_CAP", true),
		SceneConcurrency: getEnvInt("SCENE_CONCURRENCY", 2),
		RetryCount:       getEnvInt("RETRY_COUNT", 2),
		RetryBase:        time.Millisecond * time.Duration(getEnvInt("RETRY_BASE_MS", 500)),
		RetryFactor:      getEnvFloat("RETRY_FACTOR", 2.0),
		RetryJitter:      getEnvFloat("RETRY_JITTER", 0.2),

		StoryTimeout:    time.Second * time.Duration(getEnvInt("STORY_TIMEOUT_SECONDS", 60)),
		ImageTimeout:    time.Second * time.Duration(getEnvInt("IMAGE_TIMEOUT_SECONDS", 90)),
		VoiceTimeout:    time.Second * time.Duration(getEnvInt("VOICE_TIMEOUT_SECONDS", 60)),
		AssembleTimeout: time.Second * time.Duration(getEnvInt("ASSEMBLE_TIMEOUT_SECONDS", 180)),
		JobBudget:       time.Second * time.Duration(getEnvInt("JOB_BUDGET_SECONDS", 600)),
		JobTTL:          time.Second * time.Duration(getEnvInt("JOB_TTL_SECONDS", 3600)),

		ImageLimit: getEnvInt("IMAGE_CONCURRENCY_LIMIT", 4),
		VoiceLimit: getEnvInt("VOICE_CONCURRENCY_LIMIT", 4),
		VideoLimit: getEnvInt("VIDEO_CONCURRENCY_LIMIT", 2),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		AllowedOrigins:   splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),
	}

	if cfg.MaxScenes < 1 || cfg.MaxScenes > 8 {
		return nil, fmt.Errorf("MAX_SCENES must be in 1..8, got %d", cfg.MaxScenes)
	}
	// The diffusion sidecar's style profiles are tuned for exactly four
	// scenes per story; relaxing the cap requires opting out explicitly.
	if cfg.StrictSceneCap && cfg.MaxScenes != 4 {
		return nil, fmt.Errorf("MAX_SCENES must be 4 while STRICT_SCENE_CAP is enabled, got %d", cfg.MaxScenes)
	}
	if cfg.SceneConcurrency < 1 || cfg.SceneConcurrency > 8 {
		return nil, fmt.Errorf("SCENE_CONCURRENCY must be in 1..8, got %d", cfg.SceneConcurrency)
	}
	if cfg.RetryCount < 0 || cfg.RetryCount > 5 {
		return nil, fmt.Errorf("RETRY_COUNT must be in 0..5, got %d", cfg.RetryCount)
	}
	if cfg.RetryFactor < 1 {
		return nil, fmt.Errorf("RETRY_FACTOR must be >= 1, got %g", cfg.RetryFactor)
	}
	if cfg.RetryJitter < 0 || cfg.RetryJitter >= 1 {
		return nil, fmt.Errorf("RETRY_JITTER must be in [0, 1), got %g", cfg.RetryJitter)
	}
	if cfg.JobBudget <= 0 || cfg.JobTTL <= 0 {
		return nil, fmt.Errorf("JOB_BUDGET_SECONDS and JOB_TTL_SECONDS must be positive")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
