package stt

import (
	"context"
	"strings"
	"sync"
	"time"

	listenv1 "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	"github.com/rs/zerolog"

	"github.com/lexiqai/encounter-scribe/internal/audio"
	"github.com/lexiqai/encounter-scribe/internal/observability"
	"github.com/lexiqai/encounter-scribe/internal/transcript"
)

// ConnectionState is the lifecycle state of the provider connection
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Option configures a StreamingClient
type Option func(*StreamingClient)

// WithLogger sets the client logger
func WithLogger(logger zerolog.Logger) Option {
	return func(c *StreamingClient) {
		c.logger = logger
	}
}

// WithScheduler replaces the timer implementation used for reconnects and keep-alives
func WithScheduler(s Scheduler) Option {
	return func(c *StreamingClient) {
		c.schedule = s
	}
}

// WithClock sets the clock used to timestamp segments
func WithClock(now func() time.Time) Option {
	return func(c *StreamingClient) {
		c.now = now
	}
}

// StreamingClient streams PCM16 audio to the transcription provider over one
// logical session and turns its results into interim updates and speaker
// segments. It reconnects on unexpected disconnects and buffers audio while
// the connection is down.
//
// All mutable state is guarded by mu. Transport callbacks and timers carry
// the generation they were created for; callbacks from an older generation
// are ignored.
type StreamingClient struct {
	cfg       Config
	transport Transport
	logger    zerolog.Logger
	schedule  Scheduler
	now       func() time.Time
	events    *eventQueue

	mu               sync.Mutex
	state            ConnectionState
	shouldReconnect  bool
	reconnectAttempt int
	exhausted        bool
	closed           bool
	generation       uint64
	reconnectTimer   Timer
	keepAliveTimer   Timer
	pending          *audio.ChunkBuffer
	finishing        bool
	stateChanged     chan struct{}
}

// finishRetryInterval paces flush retries while Finish waits for the buffer to empty.
const finishRetryInterval = 50 * time.Millisecond

// NewStreamingClient creates a client that talks to the provider through transport
func NewStreamingClient(cfg Config, transport Transport, opts ...Option) *StreamingClient {
	if cfg.PendingChunks <= 0 {
		cfg.PendingChunks = defaultPendingChunks
	}

	c := &StreamingClient{
		cfg:          cfg,
		transport:    transport,
		logger:       observability.WithComponent("stt"),
		schedule:     realScheduler,
		now:          time.Now,
		pending:      audio.NewChunkBuffer(cfg.PendingChunks),
		stateChanged: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.events = newEventQueue()
	observability.SetConnectionState(int(StateDisconnected))
	return c
}

// Events returns the ordered stream of client events.
// The channel is closed after Close.
func (c *StreamingClient) Events() <-chan Event {
	return c.events.out
}

// Connect opens the session. It is a no-op while connecting or connected.
// The handshake completes asynchronously; a ConnectionChanged event reports it.
func (c *StreamingClient) Connect(ctx context.Context) error {
	url, header, err := c.cfg.listenRequest()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClientClosed
	}
	if c.state != StateDisconnected {
		return nil
	}

	c.shouldReconnect = true
	c.exhausted = false
	c.finishing = false
	c.stopTimerLocked(&c.reconnectTimer)

	gen := c.beginAttemptLocked()
	if err := c.transport.Connect(ctx, url, header, &connHandler{client: c, gen: gen}); err != nil {
		c.setStateLocked(StateDisconnected)
		return &ConnectionError{Op: "connect", Err: err}
	}

	c.logger.Info().
		Str("model", c.cfg.Options.Model).
		Str("language", c.cfg.Options.Language).
		Msg("Transcription session connecting")
	return nil
}

// Disconnect ends the session on purpose. It never triggers a reconnect, and
// no reconnect or keep-alive fires after it returns.
func (c *StreamingClient) Disconnect() error {
	c.mu.Lock()
	c.shouldReconnect = false
	c.stopTimerLocked(&c.reconnectTimer)
	c.stopTimerLocked(&c.keepAliveTimer)

	wasConnected := c.state == StateConnected
	if wasConnected {
		if err := c.transport.SendText(closeStreamMessage); err != nil {
			c.logger.Debug().Err(err).Msg("Failed to send close stream message")
		}
	}

	c.generation++
	c.setStateLocked(StateDisconnected)
	c.pending.Clear()
	if wasConnected {
		c.events.push(Event{Kind: EventConnectionChanged, Connected: false})
	}
	c.mu.Unlock()

	c.logger.Info().Msg("Transcription session disconnected")
	return c.transport.Disconnect()
}

// Finish ends the audio stream without losing its tail. It waits until the
// session is connected with no buffered audio, sends CloseStream, and returns
// once the provider has closed the socket, so results for the last audio
// reach Events. No reconnect follows and audio sent meanwhile is dropped.
// Close must still be called afterwards.
func (c *StreamingClient) Finish(ctx context.Context) error {
	c.mu.Lock()
	for {
		if c.closed {
			c.mu.Unlock()
			return ErrClientClosed
		}
		if c.state == StateConnected && c.flushPendingLocked() {
			break
		}
		if c.state == StateDisconnected && !c.shouldReconnect {
			exhausted := c.exhausted
			c.mu.Unlock()
			if exhausted {
				return ErrExhaustedRetries
			}
			return ErrNotConnected
		}
		changed := c.stateChanged
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		case <-time.After(finishRetryInterval):
		}
		c.mu.Lock()
	}

	c.finishing = true
	c.shouldReconnect = false
	c.stopTimerLocked(&c.reconnectTimer)
	c.stopTimerLocked(&c.keepAliveTimer)
	if err := c.transport.SendText(closeStreamMessage); err != nil {
		c.mu.Unlock()
		return &ConnectionError{Op: "close_stream", Err: err}
	}
	c.logger.Info().Msg("Audio stream finished, waiting for final results")

	for c.state != StateDisconnected {
		changed := c.stateChanged
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
		c.mu.Lock()
	}
	c.mu.Unlock()
	return nil
}

// Close disconnects and closes the event stream
func (c *StreamingClient) Close() error {
	err := c.Disconnect()

	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.events.close()
	return err
}

// SendAudio forwards samples when connected and buffers them otherwise.
// Chunks reach the provider in the order they were given. It never waits on
// the network.
func (c *StreamingClient) SendAudio(samples []int16) {
	if len(samples) == 0 {
		return
	}
	frame := audio.EncodePCM16(samples)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.finishing {
		c.logger.Debug().Int("bytes", len(frame)).Msg("Dropping audio after finish")
		return
	}

	// Anything left over from a failed send goes out first.
	if c.state == StateConnected && c.flushPendingLocked() {
		err := c.transport.SendBinary(frame)
		if err == nil {
			observability.RecordAudioBytes("sent", len(frame))
			return
		}
		c.logger.Warn().Err(err).Msg("Failed to send audio, buffering")
	}

	c.bufferLocked(frame)
}

// State returns the current connection state
func (c *StreamingClient) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ReconnectAttempt returns the number of reconnect attempts since the last successful open
func (c *StreamingClient) ReconnectAttempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnectAttempt
}

// PendingChunks returns the number of buffered audio chunks
func (c *StreamingClient) PendingChunks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending.Len()
}

// flushPendingLocked sends buffered audio oldest first. On a send failure the
// unsent chunks go back to the buffer in order and it returns false.
func (c *StreamingClient) flushPendingLocked() bool {
	if c.pending.Len() == 0 {
		return true
	}
	chunks := c.pending.Drain()
	for i, chunk := range chunks {
		if err := c.transport.SendBinary(chunk); err != nil {
			c.logger.Warn().Err(err).Int("remaining", len(chunks)-i).Msg("Failed to flush buffered audio")
			for _, rest := range chunks[i:] {
				c.pending.Push(rest)
			}
			return false
		}
		observability.RecordAudioBytes("flushed", len(chunk))
	}
	return true
}

func (c *StreamingClient) bufferLocked(frame []byte) {
	if dropped := c.pending.Push(frame); dropped > 0 {
		observability.RecordPendingAudioDropped(dropped)
	}
	observability.RecordAudioBytes("buffered", len(frame))
}

func (c *StreamingClient) beginAttemptLocked() uint64 {
	c.generation++
	c.setStateLocked(StateConnecting)
	return c.generation
}

func (c *StreamingClient) setStateLocked(state ConnectionState) {
	c.state = state
	observability.SetConnectionState(int(state))

	close(c.stateChanged)
	c.stateChanged = make(chan struct{})
}

func (c *StreamingClient) stopTimerLocked(t *Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

// handleConnected completes the open handshake. Buffered audio is flushed
// before the state becomes Connected. Whatever fails to flush stays buffered
// and SendAudio sends it ahead of new audio.
func (c *StreamingClient) handleConnected(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation || c.state != StateConnecting {
		return
	}

	c.reconnectAttempt = 0
	c.exhausted = false

	buffered := c.pending.Len()
	c.flushPendingLocked()

	c.setStateLocked(StateConnected)
	c.scheduleKeepAliveLocked(gen)
	c.events.push(Event{Kind: EventConnectionChanged, Connected: true})

	c.logger.Info().
		Int("flushed_chunks", buffered-c.pending.Len()).
		Int("pending_chunks", c.pending.Len()).
		Msg("Transcription session connected")
}

func (c *StreamingClient) handleDisconnected(gen uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation || c.state == StateDisconnected {
		return
	}

	wasConnected := c.state == StateConnected
	c.stopTimerLocked(&c.keepAliveTimer)
	c.setStateLocked(StateDisconnected)
	if wasConnected {
		c.events.push(Event{Kind: EventConnectionChanged, Connected: false})
	}

	if c.finishing {
		c.logger.Info().Err(err).Msg("Transcription stream closed by provider")
		return
	}
	c.logger.Warn().Err(err).Bool("was_connected", wasConnected).Msg("Transcription connection lost")

	if c.shouldReconnect {
		c.scheduleReconnectLocked()
	}
}

// scheduleReconnectLocked arms the next attempt, or gives up once the cap is reached.
func (c *StreamingClient) scheduleReconnectLocked() {
	if c.cfg.Reconnect.Exhausted(c.reconnectAttempt) {
		if !c.exhausted {
			c.exhausted = true
			c.shouldReconnect = false
			observability.IncrementReconnectsExhausted()
			c.logger.Error().Int("attempts", c.reconnectAttempt).Msg("Giving up reconnecting")
			c.events.push(Event{Kind: EventError, Err: ErrExhaustedRetries})
		}
		return
	}

	c.reconnectAttempt++
	delay := c.cfg.Reconnect.Delay(c.reconnectAttempt)
	gen := c.generation
	c.reconnectTimer = c.schedule(delay, func() {
		c.reconnect(gen)
	})

	observability.IncrementReconnectAttempts()
	c.logger.Info().
		Int("attempt", c.reconnectAttempt).
		Dur("delay", delay).
		Msg("Scheduled reconnect")
}

func (c *StreamingClient) reconnect(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation || !c.shouldReconnect || c.state != StateDisconnected {
		return
	}
	c.reconnectTimer = nil

	url, header, err := c.cfg.listenRequest()
	if err != nil {
		c.logger.Error().Err(err).Msg("Cannot rebuild listen request")
		c.scheduleReconnectLocked()
		return
	}

	next := c.beginAttemptLocked()
	if err := c.transport.Connect(context.Background(), url, header, &connHandler{client: c, gen: next}); err != nil {
		c.logger.Warn().Err(err).Int("attempt", c.reconnectAttempt).Msg("Reconnect attempt failed")
		c.setStateLocked(StateDisconnected)
		c.scheduleReconnectLocked()
	}
}

func (c *StreamingClient) scheduleKeepAliveLocked(gen uint64) {
	if c.cfg.KeepAliveInterval <= 0 {
		return
	}
	c.keepAliveTimer = c.schedule(c.cfg.KeepAliveInterval, func() {
		c.keepAlive(gen)
	})
}

func (c *StreamingClient) keepAlive(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation || c.state != StateConnected {
		return
	}
	if err := c.transport.SendText(keepAliveMessage); err != nil {
		c.logger.Debug().Err(err).Msg("Failed to send keep-alive")
	}
	c.scheduleKeepAliveLocked(gen)
}

func (c *StreamingClient) handleMessage(gen uint64, payload []byte) {
	msg, err := decodeMessage(payload)
	if err != nil {
		observability.RecordProtocolDrop("malformed_json")
		c.logger.Debug().Err(err).Msg("Dropping provider message")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation {
		return
	}

	switch msg.Type {
	case messageResults, "":
		c.handleResultsLocked(msg)

	case messageMetadata, messageSpeechStarted, messageUtteranceEnd:
		c.logger.Debug().Str("type", msg.Type).Msg("Provider event")

	case messageError:
		observability.IncrementProviderErrors()
		providerErr := &ProviderError{Message: msg.errorMessage()}
		c.logger.Error().Err(providerErr).Msg("Provider error frame")
		c.events.push(Event{Kind: EventError, Err: providerErr})

	default:
		observability.RecordProtocolDrop("unknown_type")
		c.logger.Debug().Str("type", msg.Type).Msg("Dropping unknown provider message type")
	}
}

func (c *StreamingClient) handleResultsLocked(msg *providerMessage) {
	alt, ok := msg.bestAlternative()
	if !ok {
		observability.RecordProtocolDrop("no_alternatives")
		return
	}
	words := alternativeWords(alt)

	if !msg.IsFinal {
		text := strings.TrimSpace(alt.Transcript)
		if text == "" {
			return
		}
		speaker := transcript.SpeakerUnknown
		if len(words) > 0 && words[0].Speaker != nil {
			speaker = transcript.SpeakerForID(*words[0].Speaker)
		}
		observability.RecordTranscriptEvent("interim")
		c.events.push(Event{
			Kind:    EventInterim,
			Interim: transcript.InterimUpdate{Text: text, Speaker: speaker},
		})
		return
	}

	for _, segment := range c.finalSegments(alt, words) {
		observability.RecordTranscriptEvent("final")
		c.events.push(Event{Kind: EventFinal, Segment: segment})
	}
}

// finalSegments assembles diarized words, or yields one Unknown segment when
// the provider sent no speaker tags.
func (c *StreamingClient) finalSegments(alt listenv1.Alternative, words []transcript.Word) []transcript.Segment {
	at := c.now()
	if transcript.HasSpeakers(words) {
		return transcript.Assemble(words, at)
	}

	text := strings.TrimSpace(alt.Transcript)
	if text == "" {
		text = transcript.Join(words)
	}
	if text == "" {
		return nil
	}

	segment := transcript.Segment{Speaker: transcript.SpeakerUnknown, Text: text, Timestamp: at}
	if len(words) > 0 {
		segment.Start = words[0].Start
		segment.End = words[len(words)-1].End
	}
	return []transcript.Segment{segment}
}

// connHandler binds transport callbacks to the generation they were opened for.
type connHandler struct {
	client *StreamingClient
	gen    uint64
}

func (h *connHandler) OnConnected() {
	h.client.handleConnected(h.gen)
}

func (h *connHandler) OnDisconnected(err error) {
	h.client.handleDisconnected(h.gen, err)
}

func (h *connHandler) OnMessage(payload []byte) {
	h.client.handleMessage(h.gen, payload)
}
