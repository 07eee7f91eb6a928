package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/joho/godotenv"

	"github.com/satriahrh/arunika/streamer/domain/repositories"
)

// Recognition backends
const (
	BackendDialogflow = "dialogflow"
	BackendSpeech     = "speech"
	BackendMock       = "mock"
)

// Config is the service configuration read from the environment
type Config struct {
	Port string `env:"PORT" envDefault:"8080"`

	Recognizer RecognizerConfig

	JWTSecret string            `env:"JWT_SECRET,required"`
	Devices   map[string]string `env:"DEVICES" envKeyValSeparator:":"`

	// IdleTimeout stops device streams that have received no audio for this long
	IdleTimeout time.Duration `env:"STREAM_IDLE_TIMEOUT" envDefault:"30s"`

	MongoURI      string `env:"MONGODB_URI"`
	MongoDatabase string `env:"MONGODB_DATABASE" envDefault:"arunika"`

	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
	LogDevelopment bool   `env:"LOG_DEVELOPMENT" envDefault:"false"`
}

// RecognizerConfig selects and configures the recognition backend
type RecognizerConfig struct {
	Backend         string   `env:"RECOGNIZER_BACKEND" envDefault:"dialogflow"`
	ProjectID       string   `env:"GOOGLE_PROJECT_ID"`
	CredentialsFile string   `env:"GOOGLE_APPLICATION_CREDENTIALS"`
	LanguageCode    string   `env:"LANGUAGE_CODE" envDefault:"id-ID"`
	SampleRateHertz int32    `env:"SAMPLE_RATE" envDefault:"16000"`
	Encoding        string   `env:"AUDIO_ENCODING" envDefault:"LINEAR16"`
	Model           string   `env:"RECOGNIZER_MODEL"`
	PhraseHints     []string `env:"PHRASE_HINTS"`
	SingleUtterance bool     `env:"SINGLE_UTTERANCE" envDefault:"true"`
	InterimResults  bool     `env:"INTERIM_RESULTS" envDefault:"true"`
	MockFinalBytes  int      `env:"MOCK_FINAL_AFTER_BYTES" envDefault:"32000"`

	Debug     bool   `env:"STREAM_DEBUG" envDefault:"false"`
	DebugFile string `env:"STREAM_DEBUG_FILE" envDefault:"debug.raw"`
}

// Load reads an optional .env file and parses the environment
func Load(envFiles ...string) (*Config, error) {
	// A missing .env file is fine, the environment may already be set
	_ = godotenv.Load(envFiles...)

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadRecognizer parses only the recognizer settings, for tools that do not
// serve HTTP. override, when set, runs before validation.
func LoadRecognizer(override func(*RecognizerConfig), envFiles ...string) (*RecognizerConfig, error) {
	_ = godotenv.Load(envFiles...)

	var cfg RecognizerConfig
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse recognizer config: %w", err)
	}

	if override != nil {
		override(&cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.IdleTimeout < 0 {
		return errors.New("STREAM_IDLE_TIMEOUT must not be negative")
	}
	return c.Recognizer.Validate()
}

// Validate validates the recognizer configuration
func (r *RecognizerConfig) Validate() error {
	switch r.Backend {
	case BackendDialogflow, BackendSpeech:
		if r.ProjectID == "" {
			return fmt.Errorf("GOOGLE_PROJECT_ID is required for the %s backend", r.Backend)
		}
	case BackendMock:
	default:
		return fmt.Errorf("unknown recognizer backend: %s", r.Backend)
	}

	if r.SampleRateHertz < 8000 || r.SampleRateHertz > 48000 {
		return fmt.Errorf("sample rate must be between 8000 and 48000, got %d", r.SampleRateHertz)
	}
	if r.Debug && r.DebugFile == "" {
		return errors.New("STREAM_DEBUG_FILE is required when STREAM_DEBUG is set")
	}

	return nil
}

// StreamConfig returns the default stream configuration for new sessions
func (r *RecognizerConfig) StreamConfig() repositories.StreamConfig {
	return repositories.StreamConfig{
		ProjectID:       r.ProjectID,
		LanguageCode:    r.LanguageCode,
		SampleRateHertz: r.SampleRateHertz,
		Encoding:        r.Encoding,
		Model:           r.Model,
		PhraseHints:     r.PhraseHints,
		SingleUtterance: r.SingleUtterance,
		InterimResults:  r.InterimResults,
	}
}
