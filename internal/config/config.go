package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the voice conversation gateway
type Config struct {
	// Server configuration
	Port      string `envconfig:"PORT" default:"8080"`
	StaticDir string `envconfig:"STATIC_DIR" default:"static"` // Directory served at /static/

	// Language model (OpenAI-compatible chat completions) configuration
	OpenAIAPIKey  string `envconfig:"OPENAI_API_KEY" required:"true"`
	OpenAIBaseURL string `envconfig:"OPENAI_BASE_URL" default:"https://api.openai.com/v1"`
	OpenAIModel   string `envconfig:"OPENAI_MODEL" default:"gpt-3.5-turbo"`
	SystemPrompt  string `envconfig:"SYSTEM_PROMPT" default:"You are a calm, soothing assistant who speaks in a warm, empathetic, and gentle manner. Your responses should make the user feel heard and understood. Always provide thoughtful and reflective answers that help the user feel comforted."`

	// Speechify TTS API configuration
	SpeechifyAPIKey           string  `envconfig:"SP_API_KEY" required:"true"`
	SpeechifyBaseURL          string  `envconfig:"SP_BASE_URL" default:"https://api.sws.speechify.com"`
	SpeechifyVoiceID          string  `envconfig:"SP_VOICE_ID" default:"28c4d41d-8811-4ca0-9515-377d6ca2c715"`
	SpeechifyEmotion          string  `envconfig:"SP_EMOTION" default:"cheerful"`      // angry, cheerful, sad, calm, warm, ...
	SpeechifyEmotionIntensity float64 `envconfig:"SP_EMOTION_INTENSITY" default:"1.5"` // Range: 0.0 to 2.0
	SpeechifySpeed            float64 `envconfig:"SP_SPEED" default:"1.3"`             // 1.0 is normal speed
	SpeechifyPitch            float64 `envconfig:"SP_PITCH" default:"1.2"`             // 1.0 is normal pitch
	SpeechifyUseStream        bool    `envconfig:"SP_USE_STREAM" default:"true"`       // /audio/stream vs /audio/speech endpoint
	SpeechifyOutputFormat     string  `envconfig:"SP_OUTPUT_FORMAT" default:"wav"`     // wav keeps synthesized audio decodable for echo fingerprinting

	// Audio processing configuration
	SampleRate         int     `envconfig:"SAMPLE_RATE" default:"16000"`          // Required capture rate for VAD (Hz)
	FrameDurationMS    int     `envconfig:"VAD_FRAME_DURATION_MS" default:"30"`   // VAD frame duration in milliseconds
	VADEnergyThreshold float64 `envconfig:"VAD_ENERGY_THRESHOLD" default:"500.0"` // RMS energy threshold for the default classifier

	// Echo suppression configuration
	EchoSuppression bool    `envconfig:"ECHO_SUPPRESSION" default:"true"`
	EchoThreshold   float64 `envconfig:"ECHO_THRESHOLD" default:"0.8"` // Similarity at or above this is treated as our own voice

	// Turn-taking configuration
	DebounceSeconds  float64 `envconfig:"DEBOUNCE_SECONDS" default:"2.0"`    // Reject transcripts arriving within this window
	CooldownSeconds  float64 `envconfig:"COOLDOWN_SECONDS" default:"0.5"`    // Dwell time after a turn before listening resumes
	SpeechChunkChars int     `envconfig:"SPEECH_CHUNK_CHARS" default:"40"`   // Pending-batch size before a chunk is queued for synthesis
	HistoryWindow    int     `envconfig:"HISTORY_WINDOW" default:"5"`        // Turns of context sent to the language model
	Delivery         string  `envconfig:"DELIVERY" default:"chunked-stream"` // chunked-stream | single-file

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Maximum synthesis retry attempts
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Validate required fields
	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	if cfg.SpeechifyAPIKey == "" {
		return nil, fmt.Errorf("SP_API_KEY is required")
	}
	switch cfg.SpeechifyOutputFormat {
	case "wav", "mp3", "ogg", "aac":
	default:
		return nil, fmt.Errorf("SP_OUTPUT_FORMAT must be one of wav, mp3, ogg, aac, got %q", cfg.SpeechifyOutputFormat)
	}
	if cfg.Delivery != "chunked-stream" && cfg.Delivery != "single-file" {
		return nil, fmt.Errorf("DELIVERY must be chunked-stream or single-file, got %q", cfg.Delivery)
	}
	if cfg.SpeechChunkChars <= 0 {
		return nil, fmt.Errorf("SPEECH_CHUNK_CHARS must be positive, got %d", cfg.SpeechChunkChars)
	}
	if cfg.HistoryWindow <= 0 {
		return nil, fmt.Errorf("HISTORY_WINDOW must be positive, got %d", cfg.HistoryWindow)
	}

	return &cfg, nil
}

// FrameDuration returns the VAD frame duration as a time.Duration
func (c *Config) FrameDuration() time.Duration {
	return time.Duration(c.FrameDurationMS) * time.Millisecond
}

// Debounce returns the transcript debounce window as a time.Duration
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.DebounceSeconds * float64(time.Second))
}

// Cooldown returns the post-turn dwell time as a time.Duration
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds * float64(time.Second))
}
