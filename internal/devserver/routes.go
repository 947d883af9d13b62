package devserver

import (
	"context"
	"encoding/binary"
	"math"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sehatica/voxconsult/domain/repositories"
	"github.com/sehatica/voxconsult/internal/auth"
)

// InitRoutes wires the development server's HTTP surface: health, metrics,
// the websocket session endpoint, token minting, and the REST collaborators
// the voice client talks to.
func InitRoutes(e *echo.Echo, hub *Hub, signer *auth.Signer, logger *zap.Logger) {
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "voxconsult-devserver",
		})
	})

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	e.GET("/ws", hub.HandleWebSocket)

	v1 := e.Group("/v1")
	v1.POST("/token", func(c echo.Context) error {
		return mintToken(c, signer, logger)
	})
	v1.POST("/tts", synthesizeSpeech)
	v1.POST("/consultations/:id/messages", func(c echo.Context) error {
		return consultationMessage(c, hub, logger)
	})
}

type tokenRequest struct {
	ConsultationID string `json:"consultation_id"`
	UserID         string `json:"user_id"`
	Role           string `json:"role"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// mintToken issues a consultation token. A production deployment would sit
// this behind real user authentication; the development server hands tokens
// to anyone who asks.
func mintToken(c echo.Context, signer *auth.Signer, logger *zap.Logger) error {
	var req tokenRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error":   "invalid_request",
			"message": "request body could not be parsed",
		})
	}
	if req.ConsultationID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error":   "missing_fields",
			"message": "consultation_id is required",
		})
	}
	if req.Role == "" {
		req.Role = "patient"
	}

	token, err := signer.Issue(req.ConsultationID, req.UserID, req.Role)
	if err != nil {
		logger.Error("failed to issue token", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error":   "internal_error",
			"message": "token could not be issued",
		})
	}
	return c.JSON(http.StatusOK, tokenResponse{Token: token})
}

type synthesisRequest struct {
	Text       string `json:"text"`
	Language   string `json:"language"`
	SampleRate int    `json:"sample_rate"`
}

// synthesizeSpeech returns placeholder PCM audio sized to the text, so the
// client's playback path runs end to end without a speech vendor. The output
// is a quiet tone, not speech.
func synthesizeSpeech(c echo.Context) error {
	var req synthesisRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error":   "invalid_request",
			"message": "request body could not be parsed",
		})
	}
	if req.Text == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error":   "missing_fields",
			"message": "text is required",
		})
	}
	sampleRate := req.SampleRate
	if sampleRate <= 0 {
		sampleRate = 24000
	}

	// Roughly 60ms of audio per word keeps playback duration plausible.
	words := 1 + len(req.Text)/6
	samples := sampleRate * 60 * words / 1000
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := int16(3000 * math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate)))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}

	return c.Blob(http.StatusOK, "audio/pcm", pcm)
}

type messageRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

type messageResponse struct {
	Reply string `json:"reply"`
}

// consultationMessage answers a typed message with the assistant model,
// mirroring the websocket text_message flow for clients in text-only mode.
func consultationMessage(c echo.Context, hub *Hub, logger *zap.Logger) error {
	var req messageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error":   "invalid_request",
			"message": "request body could not be parsed",
		})
	}
	if req.Text == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error":   "missing_fields",
			"message": "text is required",
		})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 60*time.Second)
	defer cancel()

	session, err := hub.llm.GenerateChat(ctx, nil)
	if err != nil {
		logger.Error("failed to open chat session", zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"error":   "llm_unavailable",
			"message": "assistant is unavailable",
		})
	}

	reply, err := session.SendMessage(ctx, repositories.ChatMessage{
		Role:    repositories.UserRole,
		Content: req.Text,
	})
	if err != nil {
		logger.Error("assistant reply failed", zap.Error(err))
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error":   "llm_error",
			"message": "assistant could not produce a reply",
		})
	}

	return c.JSON(http.StatusOK, messageResponse{Reply: reply.Content})
}
