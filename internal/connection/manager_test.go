package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/sehatica/voxconsult/domain/entities"
	"github.com/sehatica/voxconsult/domain/repositories"
	"github.com/sehatica/voxconsult/internal/protocol"
)

func TestDelay(t *testing.T) {
	tests := []struct {
		name    string
		attempt int
		base    time.Duration
		cap     time.Duration
		want    time.Duration
	}{
		{"first attempt", 0, time.Second, 30 * time.Second, time.Second},
		{"second attempt", 1, time.Second, 30 * time.Second, 2 * time.Second},
		{"fifth attempt", 4, time.Second, 30 * time.Second, 16 * time.Second},
		{"capped", 5, time.Second, 30 * time.Second, 30 * time.Second},
		{"far past cap", 40, time.Second, 30 * time.Second, 30 * time.Second},
		{"overflow guarded", 200, time.Second, 30 * time.Second, 30 * time.Second},
		{"negative attempt", -3, time.Second, 30 * time.Second, time.Second},
		{"cap below base", 0, 2 * time.Second, time.Second, 2 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Delay(tt.attempt, tt.base, tt.cap); got != tt.want {
				t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}
}

func TestDelayMonotonicUntilCap(t *testing.T) {
	prev := time.Duration(0)
	for attempt := 0; attempt < 10; attempt++ {
		d := Delay(attempt, time.Second, 30*time.Second)
		if d < prev {
			t.Fatalf("delay decreased at attempt %d: %v < %v", attempt, d, prev)
		}
		prev = d
	}
}

type fakeSocket struct {
	in  chan []byte
	err chan error
	out chan []byte

	closeOnce   sync.Once
	closed      chan struct{}
	closeFrames chan int
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		in:          make(chan []byte, 16),
		err:         make(chan error, 1),
		out:         make(chan []byte, 16),
		closed:      make(chan struct{}),
		closeFrames: make(chan int, 4),
	}
}

func (s *fakeSocket) ReadMessage() (int, []byte, error) {
	select {
	case data := <-s.in:
		return 1, data, nil
	case err := <-s.err:
		return 0, nil, err
	case <-s.closed:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (s *fakeSocket) WriteMessage(messageType int, data []byte) error {
	select {
	case <-s.closed:
		return errors.New("use of closed connection")
	default:
	}
	s.out <- data
	return nil
}

func (s *fakeSocket) WriteControl(messageType int, data []byte, deadline time.Time) error {
	s.closeFrames <- messageType
	return nil
}

func (s *fakeSocket) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

type fakeDialer struct {
	mu       sync.Mutex
	failures int
	calls    int
	socks    []*fakeSocket
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Socket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.calls <= d.failures {
		return nil, fmt.Errorf("dial refused (call %d)", d.calls)
	}
	s := newFakeSocket()
	d.socks = append(d.socks, s)
	return s, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *fakeDialer) lastSocket() *fakeSocket {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.socks) == 0 {
		return nil
	}
	return d.socks[len(d.socks)-1]
}

type staticCreds struct {
	token string
	err   error
}

func (c staticCreds) Token(ctx context.Context) (string, error) {
	return c.token, c.err
}

func waitFrame(t *testing.T, ch chan []byte) []byte {
	t.Helper()
	select {
	case data := <-ch:
		return data
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outbound frame")
		return nil
	}
}

func frameType(t *testing.T, data []byte) string {
	t.Helper()
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("frame is not JSON: %v", err)
	}
	return envelope.Type
}

func encodeFrame(t *testing.T, msg protocol.Message) []byte {
	t.Helper()
	data, err := protocol.Encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return data
}

func newTestManager(dialer Dialer, creds repositories.CredentialSource) *Manager {
	return NewManager(Config{
		URL:         "ws://localhost/ws/consultation",
		Base:        time.Millisecond,
		Cap:         4 * time.Millisecond,
		MaxAttempts: 3,
	}, dialer, creds, zap.NewNop())
}

func TestConnectSendsInitAndReportsConnected(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestManager(dialer, staticCreds{token: "tok"})

	states := make(chan entities.ConnectionState, 8)
	m.OnStateChange(func(s entities.ConnectionState) { states <- s })

	session := entities.NewSession("consult-1", "id-ID", "standard")
	if err := m.Connect(context.Background(), session); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer m.Disconnect()

	sock := dialer.lastSocket()
	if sock == nil {
		t.Fatal("no socket dialed")
	}
	if got := frameType(t, waitFrame(t, sock.out)); got != "init" {
		t.Fatalf("first frame type = %q, want init", got)
	}
	if m.State() != entities.ConnectionConnecting {
		t.Fatalf("state before ack = %v, want Connecting", m.State())
	}

	sock.in <- encodeFrame(t, &protocol.ConnectionEstablished{Type: protocol.TypeConnectionEstablished})
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-states:
			if s == entities.ConnectionConnected {
				return
			}
		case <-deadline:
			t.Fatal("never reached Connected")
		}
	}
}

func TestConnectWithoutTokenFailsAuth(t *testing.T) {
	tests := []struct {
		name  string
		creds staticCreds
	}{
		{"empty token", staticCreds{token: ""}},
		{"source error", staticCreds{err: errors.New("vault down")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(&fakeDialer{}, tt.creds)
			err := m.Connect(context.Background(), entities.NewSession("c", "id-ID", "standard"))
			if !errors.Is(err, entities.ErrAuth) {
				t.Fatalf("Connect error = %v, want ErrAuth", err)
			}
			if m.State() != entities.ConnectionDisconnected {
				t.Errorf("state = %v, want Disconnected", m.State())
			}
		})
	}
}

func TestConnectIsSingleFlight(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestManager(dialer, staticCreds{token: "tok"})
	session := entities.NewSession("c", "id-ID", "standard")

	if err := m.Connect(context.Background(), session); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer m.Disconnect()
	if err := m.Connect(context.Background(), session); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	if got := dialer.dialCount(); got != 1 {
		t.Errorf("dial count = %d, want 1", got)
	}
}

func TestPingAnsweredWithPong(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestManager(dialer, staticCreds{token: "tok"})
	forwarded := make(chan protocol.Message, 8)
	m.OnMessage(func(msg protocol.Message) { forwarded <- msg })

	if err := m.Connect(context.Background(), entities.NewSession("c", "id-ID", "standard")); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer m.Disconnect()

	sock := dialer.lastSocket()
	waitFrame(t, sock.out) // init

	sock.in <- encodeFrame(t, &protocol.Ping{Type: protocol.TypePing})
	if got := frameType(t, waitFrame(t, sock.out)); got != "pong" {
		t.Fatalf("reply type = %q, want pong", got)
	}

	select {
	case msg := <-forwarded:
		t.Fatalf("ping was forwarded to handler: %T", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestInboundMessagesForwarded(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestManager(dialer, staticCreds{token: "tok"})
	forwarded := make(chan protocol.Message, 8)
	m.OnMessage(func(msg protocol.Message) { forwarded <- msg })

	if err := m.Connect(context.Background(), entities.NewSession("c", "id-ID", "standard")); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer m.Disconnect()

	sock := dialer.lastSocket()
	sock.in <- encodeFrame(t, &protocol.FinalTranscript{Type: protocol.TypeFinalTranscript, Transcript: "halo", UtteranceSeq: 1})

	select {
	case msg := <-forwarded:
		ft, ok := msg.(*protocol.FinalTranscript)
		if !ok {
			t.Fatalf("forwarded %T, want *FinalTranscript", msg)
		}
		if ft.Transcript != "halo" {
			t.Errorf("transcript = %q, want halo", ft.Transcript)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message never forwarded")
	}
}

func TestSendBeforeConnectFails(t *testing.T) {
	m := newTestManager(&fakeDialer{}, staticCreds{token: "tok"})
	err := m.Send(protocol.NewFlush())
	var te *entities.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("Send error = %v, want TransportError", err)
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestManager(dialer, staticCreds{token: "tok"})
	states := make(chan entities.ConnectionState, 16)
	m.OnStateChange(func(s entities.ConnectionState) { states <- s })

	if err := m.Connect(context.Background(), entities.NewSession("c", "id-ID", "standard")); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer m.Disconnect()

	first := dialer.lastSocket()
	first.in <- encodeFrame(t, &protocol.ConnectionEstablished{Type: protocol.TypeConnectionEstablished})
	waitForState(t, states, entities.ConnectionConnected)

	first.err <- errors.New("connection reset by peer")
	waitForState(t, states, entities.ConnectionReconnecting)
	waitForState(t, states, entities.ConnectionConnected, func() {
		// The redial needs the replacement socket to acknowledge.
		if sock := dialer.lastSocket(); sock != first {
			sock.in <- encodeFrame(t, &protocol.ConnectionEstablished{Type: protocol.TypeConnectionEstablished})
		}
	})

	if got := dialer.dialCount(); got != 2 {
		t.Errorf("dial count = %d, want 2", got)
	}
}

func TestReconnectExhaustionIsFatal(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestManager(dialer, staticCreds{token: "tok"})

	fatal := make(chan error, 1)
	m.OnFatal(func(err error) { fatal <- err })

	if err := m.Connect(context.Background(), entities.NewSession("c", "id-ID", "standard")); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	// Every redial from now on is refused.
	dialer.mu.Lock()
	dialer.failures = 1 << 20
	dialer.mu.Unlock()

	sock := dialer.lastSocket()
	sock.in <- encodeFrame(t, &protocol.ConnectionEstablished{Type: protocol.TypeConnectionEstablished})
	sock.err <- errors.New("connection reset by peer")

	select {
	case err := <-fatal:
		var exhausted *entities.ConnectionExhaustedError
		if !errors.As(err, &exhausted) {
			t.Fatalf("fatal error = %v, want ConnectionExhaustedError", err)
		}
		if exhausted.Attempts != 3 {
			t.Errorf("attempts = %d, want 3", exhausted.Attempts)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("exhaustion never reported")
	}

	if m.State() != entities.ConnectionDisconnected {
		t.Errorf("state = %v, want Disconnected", m.State())
	}
}

func TestDisconnectIsIdempotentAndCancelsReconnect(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestManager(dialer, staticCreds{token: "tok"})
	states := make(chan entities.ConnectionState, 16)
	m.OnStateChange(func(s entities.ConnectionState) { states <- s })

	if err := m.Connect(context.Background(), entities.NewSession("c", "id-ID", "standard")); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	sock := dialer.lastSocket()
	sock.in <- encodeFrame(t, &protocol.ConnectionEstablished{Type: protocol.TypeConnectionEstablished})
	waitForState(t, states, entities.ConnectionConnected)

	before := dialer.dialCount()
	m.Disconnect()
	m.Disconnect()

	select {
	case mt := <-sock.closeFrames:
		if mt != 8 { // websocket.CloseMessage
			t.Errorf("close control frame type = %d, want 8", mt)
		}
	case <-time.After(time.Second):
		t.Fatal("no close frame written")
	}

	// No redial may happen after an explicit disconnect.
	time.Sleep(20 * time.Millisecond)
	if got := dialer.dialCount(); got != before {
		t.Errorf("dial count after Disconnect = %d, want %d", got, before)
	}
	if m.State() != entities.ConnectionDisconnected {
		t.Errorf("state = %v, want Disconnected", m.State())
	}
}

func waitForState(t *testing.T, states chan entities.ConnectionState, want entities.ConnectionState, tick ...func()) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case s := <-states:
			if s == want {
				return
			}
		case <-time.After(5 * time.Millisecond):
			for _, fn := range tick {
				fn()
			}
		case <-deadline:
			t.Fatalf("never observed state %v", want)
		}
	}
}
