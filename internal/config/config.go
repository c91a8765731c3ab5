package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Recognizer backends
const (
	RecognizerBrowser  = "browser"  // the browser runs speech recognition and forwards its events
	RecognizerDeepgram = "deepgram" // the browser streams linear16 audio, Deepgram transcribes it
)

// Config holds all configuration for the clinic gateway service
type Config struct {
	// Server configuration
	Port           string   `envconfig:"PORT" default:"8080"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:""`

	// Visit store
	DatabasePath string `envconfig:"DATABASE_PATH" default:"clinic.sqlite"`

	// Recognizer configuration
	RecognizerBackend string `envconfig:"RECOGNIZER_BACKEND" default:"browser"`
	RecognizerLocale  string `envconfig:"RECOGNIZER_LOCALE" default:"en-US"`
	DeepgramAPIKey    string `envconfig:"DEEPGRAM_API_KEY" default:""`
	DeepgramModel     string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"`
	AudioSampleRate   int    `envconfig:"AUDIO_SAMPLE_RATE" default:"16000"` // linear16 from the browser

	// Capture session behaviour
	CaptureCountdownSeconds int `envconfig:"CAPTURE_COUNTDOWN_SECONDS" default:"0"` // pre-roll, 0 starts immediately
	CaptureRestartDelayMs   int `envconfig:"CAPTURE_RESTART_DELAY_MS" default:"100"`

	// Extraction client (consumer side of /api/medical-ai)
	ExtractionURL     string        `envconfig:"EXTRACTION_URL" default:""`
	ExtractionTimeout time.Duration `envconfig:"EXTRACTION_TIMEOUT" default:"30s"`

	// Extraction endpoint (producer side): OpenAI-compatible chat completions
	LLMAPIURL      string  `envconfig:"LLM_API_URL" default:"https://api.openai.com/v1/chat/completions"`
	LLMAPIKey      string  `envconfig:"LLM_API_KEY" default:""`
	LLMModel       string  `envconfig:"LLM_MODEL" default:"gpt-3.5-turbo"`
	LLMTemperature float64 `envconfig:"LLM_TEMPERATURE" default:"0.2"`
	DemoMode       bool    `envconfig:"DEMO_MODE" default:"false"`

	// Resilience configuration
	CircuitBreakerMaxFailures  int           `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`
	CircuitBreakerResetTimeout time.Duration `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30s"`

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

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.ExtractionURL == "" {
		cfg.ExtractionURL = fmt.Sprintf("http://localhost:%s/api/medical-ai", cfg.Port)
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.RecognizerBackend {
	case RecognizerBrowser:
	case RecognizerDeepgram:
		if c.DeepgramAPIKey == "" {
			return fmt.Errorf("DEEPGRAM_API_KEY is required when RECOGNIZER_BACKEND=%s", RecognizerDeepgram)
		}
	default:
		return fmt.Errorf("unknown RECOGNIZER_BACKEND %q", c.RecognizerBackend)
	}

	if !c.DemoMode && c.LLMAPIKey == "" {
		return fmt.Errorf("LLM_API_KEY is required unless DEMO_MODE is enabled")
	}
	if c.CaptureCountdownSeconds < 0 {
		return fmt.Errorf("CAPTURE_COUNTDOWN_SECONDS must not be negative")
	}
	return nil
}

// CountdownSeconds returns the pre-roll countdown length.
func (c *Config) CountdownSeconds() int { return c.CaptureCountdownSeconds }

// RestartDelay returns the pause before retrying an invalid-state recognizer start.
func (c *Config) RestartDelay() time.Duration {
	return time.Duration(c.CaptureRestartDelayMs) * time.Millisecond
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
