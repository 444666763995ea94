package stt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/encounter-scribe/internal/observability"
)

var errSendQueueFull = errors.New("transport send queue is full")

// WebSocketTransport implements Transport over a gorilla websocket.
// Each Connect opens a new socket; writes go through a queue drained by a
// single write loop so senders never wait on the network.
type WebSocketTransport struct {
	dialer       *websocket.Dialer
	queueSize    int
	writeTimeout time.Duration
	logger       zerolog.Logger

	mu      sync.Mutex
	session *wsSession
}

// NewWebSocketTransport creates a websocket transport
func NewWebSocketTransport(handshakeTimeout time.Duration, queueSize int) *WebSocketTransport {
	if handshakeTimeout <= 0 {
		handshakeTimeout = 10 * time.Second
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	return &WebSocketTransport{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		queueSize:    queueSize,
		writeTimeout: 5 * time.Second,
		logger:       observability.WithComponent("websocket"),
	}
}

type frame struct {
	messageType int
	data        []byte
}

type wsSession struct {
	handler  TransportHandler
	outbound chan frame
	stop     chan struct{}
	stopOnce sync.Once
	cancel   context.CancelFunc
}

func (s *wsSession) requestStop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.cancel()
	})
}

func (s *wsSession) stopping() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// Connect dials url in the background and reports the outcome through handler.
func (t *WebSocketTransport) Connect(ctx context.Context, url string, header http.Header, handler TransportHandler) error {
	if url == "" {
		return errors.New("websocket url is empty")
	}

	dialCtx, cancel := context.WithCancel(ctx)
	s := &wsSession{
		handler:  handler,
		outbound: make(chan frame, t.queueSize),
		stop:     make(chan struct{}),
		cancel:   cancel,
	}

	t.mu.Lock()
	previous := t.session
	t.session = s
	t.mu.Unlock()

	if previous != nil {
		previous.requestStop()
	}

	go t.run(dialCtx, s, url, header)
	return nil
}

// SendBinary queues an audio frame
func (t *WebSocketTransport) SendBinary(data []byte) error {
	return t.enqueue(frame{messageType: websocket.BinaryMessage, data: data})
}

// SendText queues a text control message
func (t *WebSocketTransport) SendText(text string) error {
	return t.enqueue(frame{messageType: websocket.TextMessage, data: []byte(text)})
}

func (t *WebSocketTransport) enqueue(f frame) error {
	t.mu.Lock()
	s := t.session
	t.mu.Unlock()

	if s == nil || s.stopping() {
		return ErrNotConnected
	}

	select {
	case s.outbound <- f:
		return nil
	default:
		return errSendQueueFull
	}
}

// Disconnect flushes queued frames, closes the socket and returns immediately.
func (t *WebSocketTransport) Disconnect() error {
	t.mu.Lock()
	s := t.session
	t.session = nil
	t.mu.Unlock()

	if s != nil {
		s.requestStop()
	}
	return nil
}

func (t *WebSocketTransport) detach(s *wsSession) {
	t.mu.Lock()
	if t.session == s {
		t.session = nil
	}
	t.mu.Unlock()
}

func (t *WebSocketTransport) run(ctx context.Context, s *wsSession, url string, header http.Header) {
	conn, resp, err := t.dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.detach(s)
		if s.stopping() {
			s.handler.OnDisconnected(nil)
			return
		}
		if resp != nil {
			err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		s.handler.OnDisconnected(&ConnectionError{Op: "handshake", Err: err})
		return
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		t.writeLoop(s, conn)
	}()

	s.handler.OnConnected()

	readErr := t.readLoop(s, conn)

	s.requestStop()
	<-writerDone
	t.detach(s)

	if isNormalClose(readErr) {
		s.handler.OnDisconnected(nil)
		return
	}
	s.handler.OnDisconnected(&ConnectionError{Op: "read", Err: readErr})
}

func (t *WebSocketTransport) readLoop(s *wsSession, conn *websocket.Conn) error {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if s.stopping() {
				return nil
			}
			return err
		}
		s.handler.OnMessage(payload)
	}
}

// writeLoop owns all writes on conn. On stop it drains what is queued, sends
// a close frame and closes the socket, which ends the read loop.
func (t *WebSocketTransport) writeLoop(s *wsSession, conn *websocket.Conn) {
	defer conn.Close()

	for {
		select {
		case f := <-s.outbound:
			if err := t.write(conn, f); err != nil {
				t.logger.Warn().Err(err).Msg("Websocket write failed")
				return
			}
		case <-s.stop:
		drain:
			for {
				select {
				case f := <-s.outbound:
					if err := t.write(conn, f); err != nil {
						return
					}
				default:
					break drain
				}
			}
			deadline := time.Now().Add(t.writeTimeout)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return
		}
	}
}

func (t *WebSocketTransport) write(conn *websocket.Conn, f frame) error {
	if err := conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(f.messageType, f.data)
}

func isNormalClose(err error) bool {
	return err == nil || websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	)
}
