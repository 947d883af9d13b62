package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/sehatica/voxconsult/adapters/llm"
	"github.com/sehatica/voxconsult/adapters/stt"
	"github.com/sehatica/voxconsult/domain/repositories"
	"github.com/sehatica/voxconsult/internal/auth"
	"github.com/sehatica/voxconsult/internal/devserver"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	secret := os.Getenv("VOX_JWT_SECRET")
	if secret == "" {
		logger.Fatal("VOX_JWT_SECRET environment variable is required")
	}
	signer, err := auth.NewSigner([]byte(secret), 24*time.Hour)
	if err != nil {
		logger.Fatal("signer setup failed", zap.Error(err))
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	hub := devserver.NewHub(assistantModel(logger), recognizer(logger), signer, logger)
	go hub.Run()

	devserver.InitRoutes(e, hub, signer, logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	go func() {
		if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("development server started", zap.String("port", port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("server is shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited")
}

// assistantModel uses Gemini when a key is configured and falls back to the
// canned model otherwise.
func assistantModel(logger *zap.Logger) repositories.LargeLanguageModel {
	if os.Getenv("GEMINI_API_KEY") == "" {
		logger.Info("GEMINI_API_KEY not set, using stub assistant")
		return llm.NewStubModel()
	}
	model, err := llm.NewGeminiModel(logger, llm.GeminiConfig{})
	if err != nil {
		logger.Warn("gemini unavailable, using stub assistant", zap.Error(err))
		return llm.NewStubModel()
	}
	return model
}

// recognizer uses Google Cloud Speech when credentials are configured and
// falls back to the canned recognizer otherwise.
func recognizer(logger *zap.Logger) repositories.SpeechToText {
	if os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") == "" {
		logger.Info("GOOGLE_APPLICATION_CREDENTIALS not set, using stub recognizer")
		return stt.NewStubRecognizer(logger)
	}
	return stt.NewGoogleRecognizer(logger)
}
