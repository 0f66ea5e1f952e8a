package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/fansync/fansync/internal/build"
	"github.com/fansync/fansync/internal/client"
	"github.com/fansync/fansync/internal/config"
	"github.com/fansync/fansync/internal/logging"
	"github.com/fansync/fansync/internal/metrics"
	"github.com/fansync/fansync/internal/tools"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func Run(cmd *cobra.Command, configFile string) {
	dotEnvUsed := false
	if tools.FileExists(".env") {
		err := godotenv.Load()
		if err != nil {
			log.Fatal().Err(err).Msg("error loading .env file")
		}
		dotEnvUsed = true
	}
	cfg, cfgMeta, err := config.GetConfig(cmd, configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("error getting config")
	}

	logCloseFn := logging.Setup(cfg)
	if logCloseFn != nil {
		defer logCloseFn()
	}
	if cfgMeta.FileNotFound {
		log.Warn().Msg("config file not found, continue using environment and flag options")
	} else {
		absConfPath, _ := filepath.Abs(configFile)
		log.Info().Str("path", absConfPath).Msg("using config file")
		if dotEnvUsed {
			log.Info().Msg("environment variables have been loaded from .env file")
		}
	}
	err = tools.WritePidFile(cfg.PidFile)
	if err != nil {
		log.Fatal().Err(err).Msg("error writing PID")
	}

	log.Info().
		Str("version", build.Version).
		Str("runtime", runtime.Version()).
		Int("pid", os.Getpid()).
		Msg("starting FanSync")

	err = cfg.Validate()
	if err != nil {
		log.Fatal().Err(err).Msg("error validating config")
	}
	err = cfg.ValidateCredentials()
	if err != nil {
		log.Fatal().Err(err).Msg("error validating credentials")
	}

	if cfg.Prometheus.Enabled {
		err = metrics.Init(metrics.Config{})
		if err != nil {
			log.Fatal().Err(err).Msg("error initializing metrics")
		}
	}

	collector := metrics.NewCollector()
	c := client.New(cfg, log.Logger, collector)
	c.SubscribePushes(func(deviceID string, status map[string]int) {
		log.Info().Str("device", deviceID).Interface("status", status).Msg("device state changed")
	})

	connectCtx, stopNotify := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	if err := c.Connect(connectCtx); err != nil {
		log.Fatal().Err(err).Msg("error connecting to cloud")
	}
	stopNotify()

	server := &http.Server{
		Addr:    cfg.HTTP.Addr(),
		Handler: Mux(cfg, c),
	}
	go func() {
		log.Info().Str("address", server.Addr).Msg("serving internal HTTP")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("error running internal HTTP server")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error shutting down internal HTTP server")
	}
	if err := c.Disconnect(); err != nil {
		log.Error().Err(err).Msg("error disconnecting")
	}
}
