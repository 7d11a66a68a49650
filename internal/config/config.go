package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	SinkMemory   = "memory"
	SinkFile     = "file"
	SinkDynamoDB = "dynamodb"
	SinkPostgres = "postgres"

	envPrefix = "RELAY"
)

// Config holds all application configuration.
type Config struct {
	HTTP    HTTPConfig    `mapstructure:"http"`
	Gemini  GeminiConfig  `mapstructure:"gemini"`
	Persona PersonaConfig `mapstructure:"persona"`
	Sink    SinkConfig    `mapstructure:"sink"`
	Log     LogConfig     `mapstructure:"log"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type GeminiConfig struct {
	APIKey string `mapstructure:"api_key"`
	// APIKeyParam names an SSM parameter holding the key. Used only when
	// APIKey is empty.
	APIKeyParam string        `mapstructure:"api_key_param"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// PersonaConfig selects the system prompt. Text wins over File, File over
// Param; with none set the built-in persona is used. Enabled=false forwards
// the utterance alone.
type PersonaConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Text    string `mapstructure:"text"`
	File    string `mapstructure:"file"`
	Param   string `mapstructure:"param"`
}

type SinkConfig struct {
	Kind        string `mapstructure:"kind"`
	FilePath    string `mapstructure:"file_path"`
	Table       string `mapstructure:"table"`
	Partition   string `mapstructure:"partition"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TracingConfig struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8000")
	v.SetDefault("http.shutdown_timeout", 10*time.Second)

	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.api_key_param", "")
	v.SetDefault("gemini.base_url", "https://generativelanguage.googleapis.com")
	v.SetDefault("gemini.model", "gemini-2.0-flash")
	v.SetDefault("gemini.timeout", 60*time.Second)

	v.SetDefault("persona.enabled", true)
	v.SetDefault("persona.text", "")
	v.SetDefault("persona.file", "")
	v.SetDefault("persona.param", "")

	v.SetDefault("sink.kind", SinkFile)
	v.SetDefault("sink.file_path", "log.txt")
	v.SetDefault("sink.table", "")
	v.SetDefault("sink.partition", "relay")
	v.SetDefault("sink.postgres_dsn", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("tracing.otlp_endpoint", "")
	v.SetDefault("tracing.sample_rate", 1.0)
}

// Load reads configuration from defaults, an optional file and the
// environment (RELAY_ prefix, dots become underscores). GEMINI_API_KEY is
// also accepted unprefixed.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("gemini.api_key", envPrefix+"_GEMINI_API_KEY", "GEMINI_API_KEY"); err != nil {
		return nil, fmt.Errorf("binding env: %w", err)
	}
	if err := v.BindEnv("sink.postgres_dsn", envPrefix+"_SINK_POSTGRES_DSN", "POSTGRES_DSN"); err != nil {
		return nil, fmt.Errorf("binding env: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	cfg.normalize()
	return &cfg, nil
}

func (c *Config) normalize() {
	c.Gemini.APIKey = strings.TrimSpace(c.Gemini.APIKey)
	c.Gemini.APIKeyParam = strings.TrimSpace(c.Gemini.APIKeyParam)
	c.Sink.Kind = strings.ToLower(strings.TrimSpace(c.Sink.Kind))
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
}

// Validate reports configuration that cannot start the relay.
func (c *Config) Validate() error {
	var errs []error

	if c.Gemini.APIKey == "" && c.Gemini.APIKeyParam == "" {
		errs = append(errs, errors.New("gemini.api_key (or GEMINI_API_KEY) is required when gemini.api_key_param is not set"))
	}
	if c.Gemini.Timeout < 0 {
		errs = append(errs, fmt.Errorf("gemini.timeout %s is negative", c.Gemini.Timeout))
	}

	switch c.Sink.Kind {
	case SinkMemory:
	case SinkFile:
		if strings.TrimSpace(c.Sink.FilePath) == "" {
			errs = append(errs, errors.New("sink.file_path is required for the file sink"))
		}
	case SinkDynamoDB:
		if strings.TrimSpace(c.Sink.Table) == "" {
			errs = append(errs, errors.New("sink.table is required for the dynamodb sink"))
		}
	case SinkPostgres:
		if strings.TrimSpace(c.Sink.PostgresDSN) == "" {
			errs = append(errs, errors.New("sink.postgres_dsn is required for the postgres sink"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown sink.kind %q", c.Sink.Kind))
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("tracing.sample_rate %.2f is outside [0, 1]", c.Tracing.SampleRate))
	}

	return errors.Join(errs...)
}

// MaskKey hides all but the last four characters of a secret.
func MaskKey(key string) string {
	if key == "" {
		return "(unset)"
	}
	r := []rune(key)
	if len(r) <= 4 {
		return strings.Repeat("*", len(r))
	}
	return "****" + string(r[len(r)-4:])
}
