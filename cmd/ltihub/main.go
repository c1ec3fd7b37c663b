package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/mind-engage/lti-hubsync/internal/config"
	"github.com/mind-engage/lti-hubsync/internal/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		envFile string
		addr    string
	)
	cmd := &cobra.Command{
		Use:          "ltihub",
		Short:        "Serve the LTI launch, JWKS and grade endpoints of the notebook hub",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loaded := config.LoadDotEnv(envFile)
			cfg := config.FromEnv()
			if addr != "" {
				cfg.HTTPAddr = addr
			}
			opt := logger.FromEnv()
			if opt.Service == "" {
				opt.Service = "ltihub"
			}
			log := logger.Init(opt)
			if len(loaded) > 0 {
				log.Debug().Strs("files", loaded).Msg("env loaded")
			}
			if err := cfg.ValidateHub(); err != nil {
				log.Error().Err(err).Msg("configuration incomplete")
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides HTTP_ADDR)")
	return cmd
}

func serve(ctx context.Context, cfg config.Config) error {
	log := logger.Named("ltihub")

	h, cleanup, err := buildServer(ctx, cfg, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	defer cleanup()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}
