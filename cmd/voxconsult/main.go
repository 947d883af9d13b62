package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/sehatica/voxconsult/adapters/audio"
	"github.com/sehatica/voxconsult/adapters/consultation"
	"github.com/sehatica/voxconsult/adapters/credentials"
	"github.com/sehatica/voxconsult/adapters/tts"
	"github.com/sehatica/voxconsult/domain/entities"
	"github.com/sehatica/voxconsult/internal/capture"
	"github.com/sehatica/voxconsult/internal/config"
	"github.com/sehatica/voxconsult/internal/connection"
	"github.com/sehatica/voxconsult/internal/duplex"
	"github.com/sehatica/voxconsult/internal/metrics"
	"github.com/sehatica/voxconsult/internal/playback"
	"github.com/sehatica/voxconsult/internal/session"
	"github.com/sehatica/voxconsult/internal/vad"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		os.Exit(1)
	}

	logger, err := cfg.Logging.Build()
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger error:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Collaborators
	ttsCfg := tts.NewConfigFromEnv()
	ttsClient, err := tts.NewClient(ttsCfg, logger)
	if err != nil {
		logger.Fatal("text to speech client failed", zap.Error(err))
	}

	microphone := audio.NewMicrophone(audio.MicrophoneConfig{
		SampleRate: cfg.Audio.SampleRate,
		BlockSize:  cfg.Audio.BlockSize,
	}, logger)

	speaker, err := audio.NewSpeaker(audio.SpeakerConfig{
		SampleRate: ttsCfg.SampleRate,
	}, logger)
	if err != nil {
		logger.Fatal("speaker device failed", zap.Error(err))
	}
	defer speaker.Close()

	// Engine wiring
	conn := connection.NewManager(connection.Config{
		URL:         cfg.Server.URL,
		Base:        cfg.Server.ReconnectBase,
		Cap:         cfg.Server.ReconnectCap,
		MaxAttempts: cfg.Server.MaxReconnectAttempts,
	}, connection.NewDialer(10*time.Second), credentials.Prefer(cfg.Server.Token, "VOX_TOKEN"), logger)

	coordinator := duplex.NewCoordinator(logger)
	micEngine := capture.NewEngine(microphone, coordinator, conn,
		cfg.Session.Language, cfg.Session.Provider, logger)
	player := playback.NewController(ttsClient, speaker, coordinator, logger)
	mets := metrics.NewMetrics(prometheus.DefaultRegisterer)
	player.OnPlayed(func(elapsed time.Duration) {
		mets.PlaybackDuration.Observe(elapsed.Seconds())
	})

	consultation := entities.NewSession(
		cfg.Session.ConsultationID, cfg.Session.Language, cfg.Session.Provider)

	engine, err := session.NewEngine(consultation, conn, micEngine, player, coordinator,
		session.Config{
			FinalizeDebounce: cfg.Session.FinalizeDebounce,
			VAD: vad.Config{
				SpeechThreshold:  cfg.VAD.SpeechThreshold,
				SilenceThreshold: cfg.VAD.SilenceThreshold,
				SilenceDuration:  cfg.VAD.SilenceDuration,
			},
		}, mets, logger)
	if err != nil {
		logger.Fatal("session engine failed", zap.Error(err))
	}

	if os.Getenv("VOX_API_KEY") != "" {
		textClient, err := consultation.NewClient(consultation.NewConfigFromEnv(), logger)
		if err != nil {
			logger.Fatal("consultation client failed", zap.Error(err))
		}
		engine.UseTextFallback(textClient)
	}

	engine.OnUtterance(func(u entities.Utterance) {
		fmt.Printf("you: %s\n", u.Text)
	})
	engine.OnResponse(func(text string) {
		fmt.Printf("assistant: %s\n", text)
	})
	engine.OnConnectionState(func(state entities.ConnectionState) {
		logger.Info("connection state", zap.Stringer("state", state))
	})
	engine.OnError(func(err error) {
		logger.Error("session error", zap.Error(err))
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = engine.Start(ctx)
	cancel()
	if err != nil {
		logger.Fatal("session start failed", zap.Error(err))
	}

	logger.Info("consultation session running",
		zap.String("consultation_id", cfg.Session.ConsultationID),
		zap.String("server", cfg.Server.URL))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case <-quit:
		logger.Info("shutting down")
	case <-engine.Done():
		logger.Info("session ended")
	}

	engine.Shutdown()
	logger.Info("session exited")
}
