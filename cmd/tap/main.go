package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"siprec-tap-gateway/pkg/ari"
	"siprec-tap-gateway/pkg/config"
	"siprec-tap-gateway/pkg/httputil"
	"siprec-tap-gateway/pkg/metrics"
	"siprec-tap-gateway/pkg/tap"
	"siprec-tap-gateway/pkg/util"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})
	logger.SetOutput(os.Stdout)

	config.LoadDotEnv(logger)
	cfg := config.LoadTapConfig()

	metrics.Init(logger)

	ariClient := ari.Connect(cfg.ARIBaseURL, cfg.ARIUsername, cfg.ARIPassword, cfg.ARIPathPrefix, logger)

	manager := tap.NewManager(ariClient, logger, tap.ManagerConfig{
		AppName: cfg.ARIApp,

		ExternalMediaFormat:        cfg.ExternalMediaFormat,
		ExternalMediaTransport:     cfg.ExternalMediaTransport,
		ExternalMediaEncapsulation: cfg.ExternalMediaEncapsulation,

		FgwRegisterURL: cfg.FgwRegisterURL,
		FgwRTPHost:     cfg.FgwRTPHost,
		FgwPortMin:     cfg.FgwRTPPortMin,
		FgwPortMax:     cfg.FgwRTPPortMax,

		SgwRegisterURL: cfg.SgwRegisterURL,
		SgwRTPHostIn:   cfg.SgwRTPHostIn,
		SgwRTPHostOut:  cfg.SgwRTPHostOut,

		BridgeAddRetryAttempts: cfg.BridgeAddRetryAttempts,
		BridgeAddRetryDelay:    cfg.BridgeAddRetryDelay,
	})

	if err := ariClient.Start(cfg.ARIApp); err != nil {
		logger.WithError(err).Fatal("tap: failed to start stasis event stream")
	}
	logger.WithField("app", cfg.ARIApp).Info("tap: stasis event stream started")

	server := httputil.New(logger, cfg.HTTPPort, metrics.GetRegistry(), func() (bool, map[string]string) {
		return manager.Ready()
	})
	server.Handle("/start_tap", manager.StartTap)
	server.Start()
	logger.WithField("port", cfg.HTTPPort).Info("tap: HTTP server started")

	shutdown := util.NewGracefulShutdown(logger, cfg.ShutdownTimeout)
	shutdown.RegisterCloser("ari", closerFunc(func() error {
		ariClient.Close()
		return nil
	}), 0)
	shutdown.RegisterCloser("http", closerFunc(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(ctx)
	}), 1)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	logger.WithField("signal", sig.String()).Info("tap: received shutdown signal")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := shutdown.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("tap: graceful shutdown reported errors")
	} else {
		logger.Info("tap: shut down cleanly")
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
