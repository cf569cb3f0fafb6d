package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"siprec-tap-gateway/pkg/config"
	"siprec-tap-gateway/pkg/fgw"
	"siprec-tap-gateway/pkg/httputil"
	"siprec-tap-gateway/pkg/metrics"
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
	cfg := config.LoadFgwConfig()

	metrics.Init(logger)

	manager := fgw.NewManager(logger, cfg.RTPPortMin, cfg.RTPPortMax, cfg.RTPHost,
		fmt.Sprintf("%s:%d", cfg.DownstreamHost, cfg.DownstreamPort),
		cfg.WatchdogInterval, cfg.InactivityThreshold)

	if cfg.DiagnosticWAVDump {
		manager.EnableDiagnosticDump(cfg.DiagnosticWAVDir, cfg.DiagnosticWAVMaxBytes)
		logger.WithField("dir", cfg.DiagnosticWAVDir).Info("fgw: diagnostic WAV dump enabled")
	}

	server := httputil.New(logger, cfg.HTTPPort, metrics.GetRegistry(), func() (bool, map[string]string) {
		return manager.Ready()
	})
	server.Handle("/register", manager.Register)
	server.Handle("/unregister", manager.Unregister)
	server.Start()
	logger.WithField("port", cfg.HTTPPort).Info("fgw: HTTP server started")

	shutdown := util.NewGracefulShutdown(logger, cfg.ShutdownTimeout)
	shutdown.RegisterCloser("http", closerFunc(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(ctx)
	}), 0)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	logger.WithField("signal", sig.String()).Info("fgw: received shutdown signal")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := shutdown.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("fgw: graceful shutdown reported errors")
	} else {
		logger.Info("fgw: shut down cleanly")
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
