// Package devserver implements the server side of the consultation wire
// protocol for local development and integration testing. It is not the
// production backend: recognition and responses run against whatever
// SpeechToText and LargeLanguageModel implementations it is handed, which
// may be the credential-free stubs.
package devserver

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/sehatica/voxconsult/domain/repositories"
	"github.com/sehatica/voxconsult/internal/auth"
	"github.com/sehatica/voxconsult/internal/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed between inbound frames before the connection is
	// considered dead. Pongs count.
	readWait = 60 * time.Second

	// Application-level ping cadence. Must be less than readWait.
	pingPeriod = (readWait * 9) / 10

	// Maximum message size allowed from peer. Base64 audio chunks are the
	// largest frames.
	maxMessageSize = 512 * 1024
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Development server accepts any origin.
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Hub tracks the active consultation clients and owns the shared
// collaborators they transcribe and respond with.
type Hub struct {
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex

	llm    repositories.LargeLanguageModel
	stt    repositories.SpeechToText
	signer *auth.Signer

	logger *zap.Logger
}

// NewHub creates a hub around the recognition and response collaborators.
func NewHub(
	llm repositories.LargeLanguageModel,
	stt repositories.SpeechToText,
	signer *auth.Signer,
	logger *zap.Logger,
) *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		llm:        llm,
		stt:        stt,
		signer:     signer,
		logger:     logger,
	}
}

// Run processes client registration. Call it once, in its own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			h.mu.Unlock()
			h.logger.Info("client registered",
				zap.String("consultation_id", client.claims.ConsultationID),
				zap.String("user_id", client.claims.UserID))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Info("client unregistered",
				zap.String("consultation_id", client.claims.ConsultationID))
		}
	}
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket authenticates the token query parameter, upgrades the
// connection, and starts the client pumps. Sends connection_established once
// the client is ready to receive.
func (h *Hub) HandleWebSocket(c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" {
		return c.JSON(http.StatusUnauthorized, map[string]string{
			"error":   "missing_token",
			"message": "token query parameter is required",
		})
	}

	claims, err := h.signer.Validate(token)
	if err != nil {
		h.logger.Warn("token rejected", zap.Error(err))
		return c.JSON(http.StatusUnauthorized, map[string]string{
			"error":   "invalid_token",
			"message": "token validation failed",
		})
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return err
	}

	client := newClient(h, conn, claims, h.logger.With(
		zap.String("consultation_id", claims.ConsultationID)))
	h.register <- client

	go client.writePump()
	go client.readPump()

	client.enqueue(protocol.ConnectionEstablished{Type: protocol.TypeConnectionEstablished})
	return nil
}
