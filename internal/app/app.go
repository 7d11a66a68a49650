// Package app assembles the relay from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"gemini-relay/handler"
	"gemini-relay/internal/config"
	"gemini-relay/internal/integrations/gemini"
	"gemini-relay/internal/integrations/paramstore"
	"gemini-relay/internal/logsink"
	"gemini-relay/internal/observability"
	"gemini-relay/internal/usecase"
)

// ParamReader reads plain and secret values from a parameter store.
type ParamReader interface {
	GetParameter(ctx context.Context, name string) (string, error)
	GetSecret(ctx context.Context, name string) (string, error)
}

// Builder turns a Config into a running App. Zero-valued optional fields are
// filled from the environment: AWS clients are created only when a sink or
// parameter actually needs them.
type Builder struct {
	Config *config.Config
	Logger *slog.Logger

	// Optional.
	Params        ParamReader
	HTTPClient    *http.Client
	LoadAWSConfig func(ctx context.Context) (aws.Config, error)

	awsCfg    *aws.Config
	closers   []func(context.Context) error
	sinkLabel string
}

type App struct {
	Handler *handler.Handler
	Logger  *slog.Logger
	Persona string
	closers []func(context.Context) error
}

// Close releases sinks and flushes traces, in reverse order of creation.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (b *Builder) Build(ctx context.Context) (*App, error) {
	if b.Config == nil {
		return nil, errors.New("app: config must not be nil")
	}
	if err := b.Config.Validate(); err != nil {
		return nil, fmt.Errorf("app: invalid config: %w", err)
	}
	logger := b.Logger
	if logger == nil {
		logger = slog.Default()
	}

	app, err := b.build(ctx, logger)
	if err != nil {
		closeErr := (&App{closers: b.closers}).Close(ctx)
		b.closers = nil
		return nil, errors.Join(err, closeErr)
	}
	b.closers = nil
	return app, nil
}

func (b *Builder) build(ctx context.Context, logger *slog.Logger) (*App, error) {
	cfg := b.Config

	tp, err := observability.InitTracing(ctx, &observability.TracingConfig{
		ServiceName:    "gemini-relay",
		ServiceVersion: "0.1.0",
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		SampleRate:     cfg.Tracing.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("app: init tracing: %w", err)
	}
	b.closers = append(b.closers, tp.Shutdown)

	sink, err := b.openSink(ctx)
	if err != nil {
		return nil, err
	}
	recorder, err := logsink.NewRecorder(sink, b.sinkLabel, logger)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	apiKey, err := b.resolveAPIKey(ctx)
	if err != nil {
		return nil, err
	}
	recorder.Record(ctx, "Loaded GEMINI_API_KEY: "+config.MaskKey(apiKey))

	persona, err := b.resolvePersona(ctx)
	if err != nil {
		return nil, err
	}

	httpClient := b.HTTPClient
	if httpClient == nil && cfg.Gemini.Timeout > 0 {
		httpClient = &http.Client{Timeout: cfg.Gemini.Timeout}
	}
	opts := []gemini.Option{
		gemini.WithBaseURL(cfg.Gemini.BaseURL),
		gemini.WithModel(cfg.Gemini.Model),
		gemini.WithTracer(tp.Tracer()),
	}
	if httpClient != nil {
		opts = append(opts, gemini.WithHTTPClient(httpClient))
	}
	llm, err := gemini.NewClient(apiKey, opts...)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	svc, err := usecase.NewRelayService(llm, recorder, persona)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	h, err := handler.NewHandler(svc, recorder)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	logger.Info("relay ready",
		"sink", b.sinkLabel,
		"model", llm.Model(),
		"persona", persona != "",
	)
	return &App{Handler: h, Logger: logger, Persona: persona, closers: b.closers}, nil
}

func (b *Builder) openSink(ctx context.Context) (logsink.Sink, error) {
	cfg := b.Config.Sink
	b.sinkLabel = cfg.Kind

	switch cfg.Kind {
	case config.SinkMemory:
		return logsink.NewMemory(), nil

	case config.SinkFile:
		f, err := logsink.OpenFile(cfg.FilePath)
		if err != nil {
			return nil, fmt.Errorf("app: open file sink: %w", err)
		}
		b.closers = append(b.closers, func(context.Context) error { return f.Close() })
		return f, nil

	case config.SinkDynamoDB:
		awsCfg, err := b.aws(ctx)
		if err != nil {
			return nil, err
		}
		d, err := logsink.NewDynamoDB(awsdynamodb.NewFromConfig(awsCfg), cfg.Table, cfg.Partition)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		return d, nil

	case config.SinkPostgres:
		db, err := logsink.OpenPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("app: open postgres sink: %w", err)
		}
		b.closers = append(b.closers, func(context.Context) error { return db.Close() })
		p, err := logsink.NewPostgres(db)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		if err := p.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		return p, nil
	}
	return nil, fmt.Errorf("app: unknown sink kind %q", cfg.Kind)
}

func (b *Builder) resolveAPIKey(ctx context.Context) (string, error) {
	if key := b.Config.Gemini.APIKey; key != "" {
		return key, nil
	}
	params, err := b.params(ctx)
	if err != nil {
		return "", err
	}
	key, err := params.GetSecret(ctx, b.Config.Gemini.APIKeyParam)
	if err != nil {
		return "", fmt.Errorf("app: read api key: %w", err)
	}
	return key, nil
}

// resolvePersona returns the system prompt, or "" when the persona is
// disabled.
func (b *Builder) resolvePersona(ctx context.Context) (string, error) {
	cfg := b.Config.Persona
	if !cfg.Enabled {
		return "", nil
	}
	if text := strings.TrimSpace(cfg.Text); text != "" {
		return text, nil
	}
	if path := strings.TrimSpace(cfg.File); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("app: read persona file: %w", err)
		}
		text := strings.TrimSpace(string(raw))
		if text == "" {
			return "", fmt.Errorf("app: persona file %s is empty", path)
		}
		return text, nil
	}
	if name := strings.TrimSpace(cfg.Param); name != "" {
		params, err := b.params(ctx)
		if err != nil {
			return "", err
		}
		text, err := params.GetParameter(ctx, name)
		if err != nil {
			return "", fmt.Errorf("app: read persona param: %w", err)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return "", fmt.Errorf("app: persona param %s is empty", name)
		}
		return text, nil
	}
	return usecase.DefaultPersona(), nil
}

func (b *Builder) params(ctx context.Context) (ParamReader, error) {
	if b.Params != nil {
		return b.Params, nil
	}
	awsCfg, err := b.aws(ctx)
	if err != nil {
		return nil, err
	}
	client, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	b.Params = client
	return client, nil
}

func (b *Builder) aws(ctx context.Context) (aws.Config, error) {
	if b.awsCfg != nil {
		return *b.awsCfg, nil
	}
	load := b.LoadAWSConfig
	if load == nil {
		load = func(ctx context.Context) (aws.Config, error) {
			return awsconfig.LoadDefaultConfig(ctx)
		}
	}
	cfg, err := load(ctx)
	if err != nil {
		return aws.Config{}, fmt.Errorf("app: load AWS config: %w", err)
	}
	b.awsCfg = &cfg
	return cfg, nil
}
