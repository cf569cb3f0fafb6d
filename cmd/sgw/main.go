package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"siprec-tap-gateway/pkg/config"
	"siprec-tap-gateway/pkg/httputil"
	"siprec-tap-gateway/pkg/metrics"
	"siprec-tap-gateway/pkg/sgw"
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
	cfg := config.LoadSgwConfig()

	metrics.Init(logger)

	roleMode := sgw.RoleCallerIn
	if cfg.RoleMode == string(sgw.RoleAgentIn) {
		roleMode = sgw.RoleAgentIn
	}

	manager := sgw.NewManager(logger, sgw.ManagerConfig{
		Speech: sgw.SpeechConfig{
			URL:            cfg.SpeechURL,
			AuthToken:      cfg.SpeechAuthToken,
			Language:       cfg.SpeechLanguage,
			InterimResults: cfg.InterimResults,
			Punctuate:      cfg.Punctuate,
			SmartFormat:    cfg.SmartFormat,
			Diarize:        cfg.Diarize,
		},
		RoleMode:              roleMode,
		PendingBindingTTL:     cfg.PendingBindingTTL,
		BootBufferFrames:      cfg.BootBufferFrames,
		WatchdogInterval:      cfg.WatchdogInterval,
		InactivityThreshold:   cfg.InactivityThreshold,
		MaxConcurrentSessions: cfg.MaxConcurrentSessions,
		ByteSwap:              cfg.ByteSwap,
	})

	if cfg.AssistantEnabled {
		manager.EnableAssistant(sgw.AssistantConfig{
			URL:            cfg.AssistantURL,
			AuthHeader:     cfg.AssistantAuthHeader,
			SpeakerName:    cfg.AssistantSpeakerName,
			Interval:       cfg.AssistantInterval,
			TailCharCap:    cfg.AssistantTailCharCap,
			MinCharsToSend: cfg.AssistantMinCharsToSend,
		})
		logger.WithField("engine", cfg.AssistantEngineLabel).Info("sgw: generative assistant enabled")
	}

	if err := manager.ListenAndServe(cfg.RTPHostIn, cfg.RTPHostOut); err != nil {
		logger.WithError(err).Fatal("sgw: failed to bind RTP listeners")
	}
	logger.WithFields(logrus.Fields{"in": cfg.RTPHostIn, "out": cfg.RTPHostOut}).Info("sgw: RTP listeners started")

	server := httputil.New(logger, cfg.HTTPPort, metrics.GetRegistry(), func() (bool, map[string]string) {
		return manager.Ready()
	})
	server.Handle("/register", manager.Register)
	server.Handle("/unregister", manager.Unregister)
	server.Handle("/ws", manager.ServeWidget)
	server.Start()
	logger.WithField("port", cfg.HTTPPort).Info("sgw: HTTP server started")

	shutdown := util.NewGracefulShutdown(logger, cfg.ShutdownTimeout)
	shutdown.RegisterCloser("http", closerFunc(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(ctx)
	}), 0)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	logger.WithField("signal", sig.String()).Info("sgw: received shutdown signal")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := shutdown.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("sgw: graceful shutdown reported errors")
	} else {
		logger.Info("sgw: shut down cleanly")
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
