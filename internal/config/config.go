package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Classifier modes accepted by CLASSIFIER_MODE.
const (
	ClassifierModeNone = "none"
	ClassifierModeChat = "chat"
	ClassifierModeGRPC = "grpc"
)

// Config holds all configuration for the encounter scribe service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Deepgram streaming STT configuration
	DeepgramAPIKey         string `envconfig:"DEEPGRAM_API_KEY" required:"true"`
	DeepgramBaseURL        string `envconfig:"DEEPGRAM_BASE_URL" default:"https://api.deepgram.com/v1"`
	DeepgramModel          string `envconfig:"DEEPGRAM_MODEL" default:"nova-2-medical"`
	DeepgramLanguage       string `envconfig:"DEEPGRAM_LANGUAGE" default:"en-US"`
	DeepgramDiarize        bool   `envconfig:"DEEPGRAM_DIARIZE" default:"true"`
	DeepgramInterimResults bool   `envconfig:"DEEPGRAM_INTERIM_RESULTS" default:"true"`
	DeepgramPunctuate      bool   `envconfig:"DEEPGRAM_PUNCTUATE" default:"true"`

	// Audio configuration
	AudioSampleRate    int `envconfig:"AUDIO_SAMPLE_RATE" default:"16000"`
	AudioChunkSamples  int `envconfig:"AUDIO_CHUNK_SAMPLES" default:"1600"` // 100ms at 16kHz
	PendingAudioChunks int `envconfig:"PENDING_AUDIO_CHUNKS" default:"50"`  // Chunks kept while disconnected

	// Audio input: raw PCM16 mono from a file, or "-" for stdin
	AudioInput        string `envconfig:"AUDIO_INPUT" default:"-"`
	AudioRealtime     bool   `envconfig:"AUDIO_REALTIME" default:"false"`  // Pace file input at the capture rate
	AudioDrainSeconds int    `envconfig:"AUDIO_DRAIN_SECONDS" default:"5"` // Wait for final results after input ends

	// Connection resilience
	ReconnectMaxAttempts int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"300"`
	ReconnectMaxBackoff  int `envconfig:"RECONNECT_MAX_BACKOFF" default:"10"` // seconds
	KeepAliveInterval    int `envconfig:"KEEPALIVE_INTERVAL" default:"30"`    // seconds

	// Encounter detection
	DetectionEnabled            bool     `envconfig:"DETECTION_ENABLED" default:"true"`
	SpeechActivityThreshold     float64  `envconfig:"SPEECH_ACTIVITY_THRESHOLD" default:"0.02"`
	SilenceThresholdSeconds     int      `envconfig:"SILENCE_THRESHOLD_SECONDS" default:"30"`
	MinEncounterDurationSeconds int      `envconfig:"MIN_ENCOUNTER_DURATION_SECONDS" default:"60"`
	BufferDurationSeconds       int      `envconfig:"BUFFER_DURATION_SECONDS" default:"0"`
	UseLLMForDetection          bool     `envconfig:"USE_LLM_FOR_DETECTION" default:"false"`
	EndKeywords                 []string `envconfig:"END_KEYWORDS" default:"goodbye,bye bye,take care,see you next time,have a good day,we're all done,that's all for today"`
	AutoConfirmEnd              bool     `envconfig:"AUTO_CONFIRM_END" default:"false"`

	// Classifier port
	ClassifierMode    string `envconfig:"CLASSIFIER_MODE" default:"none"` // none, chat, grpc
	ClassifierURL     string `envconfig:"CLASSIFIER_URL" default:""`
	ClassifierAPIKey  string `envconfig:"CLASSIFIER_API_KEY" default:""`
	ClassifierModel   string `envconfig:"CLASSIFIER_MODEL" default:"gpt-4o-mini"`
	ClassifierTimeout int    `envconfig:"CLASSIFIER_TIMEOUT" default:"10"` // seconds

	// Resilience configuration for the classifier
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // seconds
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"2"`
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"` // milliseconds

	// Event publishing
	KafkaEnabled        bool     `envconfig:"KAFKA_ENABLED" default:"false"`
	KafkaBrokers        []string `envconfig:"KAFKA_BROKERS" default:""`
	KafkaTopicPartial   string   `envconfig:"KAFKA_TOPIC_PARTIAL" default:"transcript.partial"`
	KafkaTopicFinal     string   `envconfig:"KAFKA_TOPIC_FINAL" default:"transcript.final"`
	KafkaTopicEncounter string   `envconfig:"KAFKA_TOPIC_ENCOUNTER" default:"encounter.state"`
	KafkaPrincipal      string   `envconfig:"KAFKA_PRINCIPAL" default:"encounter-scribe"`

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
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

// Validate checks cross-field constraints envconfig cannot express.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DeepgramAPIKey) == "" {
		return fmt.Errorf("DEEPGRAM_API_KEY is required")
	}
	if _, err := url.Parse(c.DeepgramBaseURL); err != nil {
		return fmt.Errorf("DEEPGRAM_BASE_URL is invalid: %w", err)
	}
	if c.AudioSampleRate <= 0 {
		return fmt.Errorf("AUDIO_SAMPLE_RATE must be positive, got %d", c.AudioSampleRate)
	}
	if c.AudioChunkSamples <= 0 {
		return fmt.Errorf("AUDIO_CHUNK_SAMPLES must be positive, got %d", c.AudioChunkSamples)
	}
	if c.PendingAudioChunks <= 0 {
		return fmt.Errorf("PENDING_AUDIO_CHUNKS must be positive, got %d", c.PendingAudioChunks)
	}
	if c.ReconnectMaxAttempts <= 0 {
		return fmt.Errorf("RECONNECT_MAX_ATTEMPTS must be positive, got %d", c.ReconnectMaxAttempts)
	}

	switch c.ClassifierMode {
	case ClassifierModeNone:
		if c.UseLLMForDetection {
			return fmt.Errorf("USE_LLM_FOR_DETECTION requires CLASSIFIER_MODE=%s or %s", ClassifierModeChat, ClassifierModeGRPC)
		}
	case ClassifierModeChat, ClassifierModeGRPC:
		if c.ClassifierURL == "" {
			return fmt.Errorf("CLASSIFIER_URL is required when CLASSIFIER_MODE=%s", c.ClassifierMode)
		}
	default:
		return fmt.Errorf("CLASSIFIER_MODE must be one of none, chat, grpc, got %q", c.ClassifierMode)
	}

	if c.KafkaEnabled && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when KAFKA_ENABLED=true")
	}

	return nil
}

// ReconnectMaxBackoffDuration returns the reconnect delay cap.
func (c *Config) ReconnectMaxBackoffDuration() time.Duration {
	return time.Duration(c.ReconnectMaxBackoff) * time.Second
}

// KeepAliveDuration returns the keep-alive interval.
func (c *Config) KeepAliveDuration() time.Duration {
	return time.Duration(c.KeepAliveInterval) * time.Second
}

// ClassifierTimeoutDuration returns the per-call classifier timeout.
func (c *Config) ClassifierTimeoutDuration() time.Duration {
	return time.Duration(c.ClassifierTimeout) * time.Second
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
