package connection

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sehatica/voxconsult/domain/entities"
	"github.com/sehatica/voxconsult/domain/repositories"
	"github.com/sehatica/voxconsult/internal/protocol"
)

const (
	defaultBase        = 1 * time.Second
	defaultCap         = 30 * time.Second
	defaultMaxAttempts = 5

	closeWriteWait = 2 * time.Second
	sendQueueSize  = 64
)

// Config controls dialing and reconnect behavior.
type Config struct {
	// URL is the websocket endpoint, e.g. wss://host/ws/consultation.
	URL string

	// Base and Cap bound the exponential reconnect delay.
	Base time.Duration
	Cap  time.Duration

	// MaxAttempts is the number of consecutive failed reconnects
	// tolerated before the manager gives up.
	MaxAttempts int
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Base <= 0 {
		out.Base = defaultBase
	}
	if out.Cap <= 0 {
		out.Cap = defaultCap
	}
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = defaultMaxAttempts
	}
	return out
}

// link is one live socket with its outbound queue. A new link is built on
// every (re)connect so in-flight pumps from a dead socket can never touch
// the current one.
type link struct {
	sock Socket
	send chan []byte
	done chan struct{}
}

// Manager owns the websocket for a session: it dials with the bearer token,
// performs the init handshake, answers server pings, and transparently
// reconnects with exponential backoff when the socket drops. All inbound
// messages except pings are handed to the OnMessage callback.
type Manager struct {
	cfg    Config
	dialer Dialer
	creds  repositories.CredentialSource
	logger *zap.Logger

	mu         sync.Mutex
	state      entities.ConnectionState
	desired    bool
	session    *entities.Session
	link       *link
	attempt    int
	retryTimer *time.Timer

	onMessage func(protocol.Message)
	onState   func(entities.ConnectionState)
	onFatal   func(error)
}

// NewManager builds a Manager. Callbacks must be registered before Connect.
func NewManager(cfg Config, dialer Dialer, creds repositories.CredentialSource, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:    cfg.withDefaults(),
		dialer: dialer,
		creds:  creds,
		logger: logger,
		state:  entities.ConnectionDisconnected,
	}
}

// OnMessage registers the handler for decoded inbound messages. Pings are
// answered internally and not forwarded.
func (m *Manager) OnMessage(fn func(protocol.Message)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onMessage = fn
}

// OnStateChange registers an observer for connection state transitions.
// The callback runs outside the manager lock.
func (m *Manager) OnStateChange(fn func(entities.ConnectionState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onState = fn
}

// OnFatal registers the handler invoked when the manager stops trying:
// reconnect attempts are exhausted or credentials are rejected.
func (m *Manager) OnFatal(fn func(error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFatal = fn
}

// State returns the current connection state.
func (m *Manager) State() entities.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect dials the endpoint for the given session and performs the init
// handshake. Calling Connect while a connection is live or in progress is a
// no-op. The manager reports Connected only after the server acknowledges
// the session.
func (m *Manager) Connect(ctx context.Context, session *entities.Session) error {
	m.mu.Lock()
	if m.state != entities.ConnectionDisconnected {
		m.mu.Unlock()
		return nil
	}
	m.desired = true
	m.session = session
	m.attempt = 0
	m.mu.Unlock()

	m.setState(entities.ConnectionConnecting)
	if err := m.establish(ctx); err != nil {
		m.mu.Lock()
		m.desired = false
		m.mu.Unlock()
		m.setState(entities.ConnectionDisconnected)
		return err
	}
	return nil
}

// Send encodes and enqueues a message on the live socket. It never blocks:
// when the socket is down or the queue is full the message is dropped and
// an error returned.
func (m *Manager) Send(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	m.mu.Lock()
	l := m.link
	m.mu.Unlock()
	if l == nil {
		return &entities.TransportError{Op: "send", Err: fmt.Errorf("not connected")}
	}

	select {
	case l.send <- data:
		return nil
	default:
		return &entities.TransportError{Op: "send", Err: fmt.Errorf("outbound queue full")}
	}
}

// Disconnect closes the socket with a normal-closure frame and cancels any
// pending reconnect. It is safe to call at any time, repeatedly.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.desired = false
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	l := m.link
	m.link = nil
	changed := m.state != entities.ConnectionDisconnected
	m.state = entities.ConnectionDisconnected
	onState := m.onState
	m.mu.Unlock()

	if l != nil {
		deadline := time.Now().Add(closeWriteWait)
		_ = l.sock.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = l.sock.Close()
	}
	if changed && onState != nil {
		onState(entities.ConnectionDisconnected)
	}
}

// establish fetches a token, dials, and sends the init message. The caller
// has already moved the state to Connecting or Reconnecting.
func (m *Manager) establish(ctx context.Context) error {
	m.mu.Lock()
	session := m.session
	m.mu.Unlock()

	token, err := m.creds.Token(ctx)
	if err != nil {
		return fmt.Errorf("%w: fetching token: %v", entities.ErrAuth, err)
	}
	if token == "" {
		return fmt.Errorf("%w: no token available", entities.ErrAuth)
	}

	endpoint, err := withToken(m.cfg.URL, token)
	if err != nil {
		return &entities.TransportError{Op: "dial", Err: err}
	}

	sock, err := m.dialer.Dial(ctx, endpoint)
	if err != nil {
		return &entities.TransportError{Op: "dial", Err: err}
	}

	initData, err := protocol.Encode(protocol.NewInit(session))
	if err != nil {
		_ = sock.Close()
		return err
	}
	if err := sock.WriteMessage(websocket.TextMessage, initData); err != nil {
		_ = sock.Close()
		return &entities.TransportError{Op: "init", Err: err}
	}

	l := &link{
		sock: sock,
		send: make(chan []byte, sendQueueSize),
		done: make(chan struct{}),
	}
	m.mu.Lock()
	m.link = l
	m.mu.Unlock()

	go m.writePump(l)
	go m.readPump(l)

	m.logger.Debug("socket established", zap.String("url", m.cfg.URL))
	return nil
}

func (m *Manager) readPump(l *link) {
	for {
		_, data, err := l.sock.ReadMessage()
		if err != nil {
			m.handleClosed(l, err)
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			m.logger.Warn("dropping undecodable frame", zap.Error(err))
			continue
		}

		switch msg.(type) {
		case *protocol.Ping:
			if err := m.Send(protocol.NewPong()); err != nil {
				m.logger.Warn("pong not sent", zap.Error(err))
			}
			continue
		case *protocol.ConnectionEstablished:
			m.mu.Lock()
			m.attempt = 0
			m.mu.Unlock()
			m.setState(entities.ConnectionConnected)
		}

		m.mu.Lock()
		handler := m.onMessage
		m.mu.Unlock()
		if handler != nil {
			handler(msg)
		}
	}
}

func (m *Manager) writePump(l *link) {
	for {
		select {
		case data := <-l.send:
			if err := l.sock.WriteMessage(websocket.TextMessage, data); err != nil {
				// The read pump sees the same broken socket and
				// drives the reconnect.
				m.logger.Debug("write failed", zap.Error(err))
				return
			}
		case <-l.done:
			return
		}
	}
}

// handleClosed runs once per dead socket, from its read pump.
func (m *Manager) handleClosed(l *link, cause error) {
	close(l.done)
	_ = l.sock.Close()

	m.mu.Lock()
	if m.link != l {
		// Already replaced or torn down by Disconnect.
		m.mu.Unlock()
		return
	}
	m.link = nil
	desired := m.desired
	wasConnected := m.state == entities.ConnectionConnected
	if !wasConnected {
		// Dropped before the server acknowledged: count it as a
		// failed attempt so a flapping handshake cannot loop forever.
		m.attempt++
	}
	m.mu.Unlock()

	if !desired {
		m.setState(entities.ConnectionDisconnected)
		return
	}

	m.logger.Warn("socket dropped, scheduling reconnect", zap.Error(cause))
	m.setState(entities.ConnectionReconnecting)
	m.scheduleRetry()
}

func (m *Manager) scheduleRetry() {
	m.mu.Lock()
	if !m.desired {
		m.mu.Unlock()
		return
	}
	if m.attempt >= m.cfg.MaxAttempts {
		onFatal := m.onFatal
		attempts := m.attempt
		m.desired = false
		m.mu.Unlock()
		m.setState(entities.ConnectionDisconnected)
		if onFatal != nil {
			onFatal(&entities.ConnectionExhaustedError{Attempts: attempts})
		}
		return
	}
	delay := Delay(m.attempt, m.cfg.Base, m.cfg.Cap)
	m.logger.Info("reconnect scheduled",
		zap.Int("attempt", m.attempt),
		zap.Duration("delay", delay))
	m.retryTimer = time.AfterFunc(delay, m.retry)
	m.mu.Unlock()
}

func (m *Manager) retry() {
	m.mu.Lock()
	if !m.desired {
		m.mu.Unlock()
		return
	}
	m.retryTimer = nil
	m.mu.Unlock()

	err := m.establish(context.Background())
	if err == nil {
		return
	}

	m.mu.Lock()
	m.attempt++
	lastErr := err
	m.mu.Unlock()

	if errors.Is(lastErr, entities.ErrAuth) {
		m.mu.Lock()
		onFatal := m.onFatal
		m.desired = false
		m.mu.Unlock()
		m.setState(entities.ConnectionDisconnected)
		if onFatal != nil {
			onFatal(lastErr)
		}
		return
	}

	m.logger.Warn("reconnect attempt failed", zap.Error(lastErr))
	m.scheduleRetry()
}

func (m *Manager) setState(s entities.ConnectionState) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	m.state = s
	onState := m.onState
	m.mu.Unlock()

	if onState != nil {
		onState(s)
	}
}

func withToken(raw, token string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

