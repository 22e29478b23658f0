package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pardot/authcode/internal/config"
	"github.com/pardot/authcode/internal/server"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s\n", os.Args[0], err)
		os.Exit(1)
	}
}

var cmd = cobra.Command{
	Use:          "authcoded",
	Short:        "Serves the OAuth2 token endpoint for the authorization code grant",
	SilenceUsage: true,
	RunE:         run,
}

var ( // flags
	configPath string
	addr       string
	logLevel   string
	logJSON    bool
)

func init() {
	cmd.Flags().StringVar(&configPath, "config", "authcoded.yaml", "Path to the YAML config file")
	cmd.Flags().StringVar(&addr, "addr", "localhost:5556", "Address to listen on")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&logJSON, "log-json", false, "Log in JSON format")
}

func run(cmd *cobra.Command, args []string) error {
	logger := logrus.New()
	lvl, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return errors.Wrap(err, "invalid log-level")
	}
	logger.SetLevel(lvl)
	if logJSON {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return errors.Wrapf(err, "loading %s", configPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := cfg.OpenBackend(ctx, logger)
	if err != nil {
		return errors.Wrap(err, "Error opening storage")
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}()

	sig, err := cfg.Signer(logger)
	if err != nil {
		return errors.Wrap(err, "Error creating signer")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	s, err := server.NewServer(ctx, server.Config{
		Issuer:              cfg.Issuer,
		Codes:               backend.Codes,
		Clients:             backend.Clients,
		Signer:              sig,
		AccessTokenValidity: time.Duration(cfg.AccessTokenValidity),
		IDTokenValidity:     time.Duration(cfg.IDTokenValidity),
		DocumentationURI:    cfg.DocumentationURI,
		AllowedOrigins:      cfg.AllowedOrigins,
		APIKeys:             cfg.APIKeys,
		MetricsUsername:     cfg.Metrics.Username,
		MetricsPassword:     cfg.Metrics.Password,
		GCFrequency:         time.Duration(cfg.GCFrequency),
		Logger:              logger,
		PrometheusRegistry:  registry,
	})
	if err != nil {
		return errors.Wrap(err, "Error creating server")
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errC := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{"addr": addr, "issuer": cfg.Issuer}).Info("listening")
		errC <- srv.ListenAndServe()
	}()

	select {
	case err := <-errC:
		return errors.Wrap(err, "serving")
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
