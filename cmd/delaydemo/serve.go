package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flight-delay-demo/internal/api"
	"flight-delay-demo/internal/metrics"
	"flight-delay-demo/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	servePort     int
	serveMaxBytes int64
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve predictions and explanations over HTTP",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (overrides config)")
	serveCmd.Flags().Int64Var(&serveMaxBytes, "max-upload-bytes", 0, "largest accepted upload in bytes (default 32MiB)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()
	wrapper := metrics.NewWrapper(m)

	predictor, err := loadPredictor(ctx, wrapper)
	if err != nil {
		return err
	}

	store, err := storage.New(settings.DataPath)
	if err != nil {
		return err
	}
	defer store.Close()

	port := settings.ListenPort
	if servePort > 0 {
		port = servePort
	}

	gin.SetMode(gin.ReleaseMode)
	srv := api.NewServer(api.Config{
		Port:           port,
		ResultsPath:    settings.ResultsPath(),
		MaxUploadBytes: serveMaxBytes,
		Explain:        settings.ExplainOptions(),
	}, predictor, store, wrapper, promhttp.Handler())

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	log.Info().
		Int("port", port).
		Str("results", settings.ResultsPath()).
		Msg("Flight delay demo ready")

	select {
	case <-waitForShutdown():
	case err := <-errCh:
		log.Error().Err(err).Msg("HTTP server failed")
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}
	log.Info().Msg("Shutdown complete")
	return nil
}

func waitForShutdown() <-chan os.Signal {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	return sig
}
