package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Recognizer backends selectable through RECOGNIZER.
const (
	RecognizerMock     = "mock"
	RecognizerDeepgram = "deepgram"
)

// Config holds all configuration for the caption QoS service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Standard call compliance profile
	StandardMaxWER       float64 `envconfig:"STANDARD_MAX_WER" default:"0.05"`
	StandardMaxLatencyMs float64 `envconfig:"STANDARD_MAX_LATENCY_MS" default:"3000"`
	StandardMinAccuracy  float64 `envconfig:"STANDARD_MIN_ACCURACY" default:"0.95"`

	// Emergency call compliance profile (must be stricter than standard)
	EmergencyMaxWER          float64 `envconfig:"EMERGENCY_MAX_WER" default:"0.02"`
	EmergencyMaxLatencyMs    float64 `envconfig:"EMERGENCY_MAX_LATENCY_MS" default:"2000"`
	EmergencyMinAccuracy     float64 `envconfig:"EMERGENCY_MIN_ACCURACY" default:"0.98"`
	EmergencyAnswerTimeoutMs int     `envconfig:"EMERGENCY_ANSWER_TIMEOUT_MS" default:"2000"` // Max ring time before an emergency call is flagged

	// Recognition oracle
	DefaultLanguage    string `envconfig:"DEFAULT_LANGUAGE" default:"en-US"`
	Recognizer         string `envconfig:"RECOGNIZER" default:"mock"` // mock, deepgram
	DeepgramAPIKey     string `envconfig:"DEEPGRAM_API_KEY" default:""`
	DeepgramModel      string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"`
	RecognizeTimeoutMs int    `envconfig:"RECOGNIZE_TIMEOUT_MS" default:"5000"` // Wait for a final transcript per audio unit

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Maximum retry attempts
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds

	// Kafka event sink
	KafkaEnabled      bool     `envconfig:"KAFKA_ENABLED" default:"false"`
	KafkaBrokers      []string `envconfig:"KAFKA_BROKERS" default:""`
	KafkaCaptionTopic string   `envconfig:"KAFKA_CAPTION_TOPIC" default:"captions.delivered"`
	KafkaVerdictTopic string   `envconfig:"KAFKA_VERDICT_TOPIC" default:"compliance.verdicts"`

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

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cross-field rules envconfig cannot express
func (c *Config) Validate() error {
	switch c.Recognizer {
	case RecognizerMock:
	case RecognizerDeepgram:
		if c.DeepgramAPIKey == "" {
			return fmt.Errorf("DEEPGRAM_API_KEY is required when RECOGNIZER=%s", RecognizerDeepgram)
		}
	default:
		return fmt.Errorf("unknown RECOGNIZER %q", c.Recognizer)
	}

	for name, v := range map[string]float64{
		"STANDARD_MAX_WER":       c.StandardMaxWER,
		"STANDARD_MIN_ACCURACY":  c.StandardMinAccuracy,
		"EMERGENCY_MAX_WER":      c.EmergencyMaxWER,
		"EMERGENCY_MIN_ACCURACY": c.EmergencyMinAccuracy,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be within [0,1], got %v", name, v)
		}
	}

	if c.EmergencyMaxLatencyMs >= c.StandardMaxLatencyMs {
		return fmt.Errorf("EMERGENCY_MAX_LATENCY_MS (%v) must be lower than STANDARD_MAX_LATENCY_MS (%v)",
			c.EmergencyMaxLatencyMs, c.StandardMaxLatencyMs)
	}
	if c.EmergencyMinAccuracy <= c.StandardMinAccuracy {
		return fmt.Errorf("EMERGENCY_MIN_ACCURACY (%v) must be higher than STANDARD_MIN_ACCURACY (%v)",
			c.EmergencyMinAccuracy, c.StandardMinAccuracy)
	}
	if c.EmergencyAnswerTimeoutMs <= 0 {
		return fmt.Errorf("EMERGENCY_ANSWER_TIMEOUT_MS must be positive")
	}

	return nil
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
