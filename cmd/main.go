package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/spf13/cobra"

	"gemini-relay/internal/app"
	"gemini-relay/internal/config"
	"gemini-relay/internal/observability"
)

var cfgFile string

func main() {
	root := &cobra.Command{
		Use:           "gemini-relay",
		Short:         "Kakao skill webhook relay for Gemini",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional; environment uses the RELAY_ prefix)")

	root.AddCommand(serveCmd())
	root.AddCommand(lambdaCmd())

	if err := root.Execute(); err != nil {
		slog.Error("gemini-relay failed", "err", err)
		os.Exit(1)
	}
}

// setup loads configuration and assembles the relay. Only main reads config.
func setup(ctx context.Context, addrOverride string) (*config.Config, *app.App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	if addrOverride != "" {
		cfg.HTTP.Addr = addrOverride
	}

	logger := observability.NewLogger(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	a, err := (&app.Builder{Config: cfg, Logger: logger}).Build(ctx)
	if err != nil {
		return nil, nil, err
	}
	return cfg, a, nil
}

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, a, err := setup(ctx, addr)
			if err != nil {
				return err
			}
			defer closeApp(a)

			srv := &http.Server{
				Addr:              cfg.HTTP.Addr,
				Handler:           a.Handler,
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.Logger.Info("gemini-relay listening", "addr", cfg.HTTP.Addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			a.Logger.Info("shutting down", "timeout", cfg.HTTP.ShutdownTimeout)
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides http.addr)")
	return cmd
}

func lambdaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lambda",
		Short: "Serve API Gateway proxy events on AWS Lambda",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, a, err := setup(cmd.Context(), "")
			if err != nil {
				return err
			}
			lambda.StartWithOptions(a.Handler.Handle, lambda.WithEnableSIGTERM(func() { closeApp(a) }))
			return nil
		},
	}
}

func closeApp(a *app.App) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		slog.Error("failed to close relay", "err", err)
	}
}
