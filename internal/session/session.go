package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"roomchat/internal/content"
	"roomchat/internal/models"
	"roomchat/internal/protocol"
	"roomchat/internal/transport"

	"github.com/google/uuid"
)

// Metrics observes session activity. See internal/metrics for the
// Prometheus implementation.
type Metrics interface {
	SessionCreated()
	FrameSent(kind models.FrameType)
	EventReceived(kind models.EventKind)
	DecodeFallback()
	StateChanged(from, to models.SessionState)
}

type Config struct {
	Identity  models.Identity
	Transport transport.Factory
	// Codec defaults to protocol.Structured.
	Codec protocol.Codec
	// OnEvent receives every event in order. Calls never overlap, but they
	// may come from different goroutines over the session's lifetime.
	OnEvent func(models.ChatEvent)
	Logger  *slog.Logger
	Metrics Metrics
}

// Session is one participation in a chat room over one stream.
type Session struct {
	id        string
	identity  models.Identity
	codec     protocol.Codec
	newStream transport.Factory
	onEvent   func(models.ChatEvent)
	logger    *slog.Logger
	metrics   Metrics
	joinFrame string

	mu      sync.Mutex
	state   models.SessionState
	started bool
	ready   bool
	dead    bool
	stream  transport.Stream
	pending []string

	queue    []models.ChatEvent
	draining bool
}

func New(config Config) (*Session, error) {
	if err := content.ValidateIdentity(config.Identity); err != nil {
		return nil, err
	}
	if config.Transport == nil {
		return nil, errors.New("transport factory is required")
	}
	if config.OnEvent == nil {
		return nil, errors.New("event handler is required")
	}
	if config.Codec == nil {
		config.Codec = protocol.Structured{}
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Metrics == nil {
		config.Metrics = nopMetrics{}
	}

	joinFrame, err := config.Codec.Join(config.Identity)
	if err != nil {
		return nil, err
	}

	config.Metrics.SessionCreated()

	id := uuid.NewString()
	return &Session{
		id:        id,
		identity:  config.Identity,
		codec:     config.Codec,
		newStream: config.Transport,
		onEvent:   config.OnEvent,
		logger: config.Logger.With(
			"session_id", id,
			"user", config.Identity.Username,
			"room", config.Identity.Room,
			"protocol", config.Codec.Name(),
		),
		metrics:   config.Metrics,
		joinFrame: joinFrame,
		state:     models.StateConnecting,
	}, nil
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Identity() models.Identity {
	return s.identity
}

func (s *Session) State() models.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Open creates the stream and starts connecting. The join announcement and
// any queued messages are written once the stream reports ready.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.state >= models.StateClosing {
		s.mu.Unlock()
		return models.ErrSessionClosed
	}
	if s.started {
		s.mu.Unlock()
		return models.ErrAlreadyOpen
	}
	s.started = true
	stream := s.newStream()
	s.stream = stream
	s.mu.Unlock()

	s.logger.Debug("opening session")
	stream.Start(ctx, s)
	return nil
}

// Send writes a chat message. While connecting the message is queued and
// flushed right after the join announcement.
func (s *Session) Send(text string) error {
	if text == "" {
		return models.ErrEmptyMessage
	}

	s.mu.Lock()
	switch s.state {
	case models.StateConnecting:
		s.pending = append(s.pending, text)
		s.mu.Unlock()
		return nil
	case models.StateClosing:
		s.mu.Unlock()
		return models.ErrNotOpen
	case models.StateClosed:
		s.mu.Unlock()
		return models.ErrSessionClosed
	}

	err := s.write(models.FrameTypeMessage, s.codec.Message(s.identity, text))
	s.mu.Unlock()
	if err != nil {
		s.OnError(err)
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// Close announces the leave when the stream is still usable, closes it and
// delivers the terminal disconnected event. Repeated calls do nothing.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state >= models.StateClosing {
		s.mu.Unlock()
		return nil
	}
	s.setState(models.StateClosing)
	s.pending = nil

	if s.ready && !s.dead {
		if frame, ok := s.codec.Leave(s.identity); ok {
			if err := s.write(models.FrameTypeLeave, frame); err != nil {
				s.logger.Debug("leave announcement failed", "error", err)
			}
		}
	}
	s.mu.Unlock()

	s.finish(nil)
	return nil
}

// OnReady implements transport.Handler.
func (s *Session) OnReady() {
	s.mu.Lock()
	if s.state != models.StateConnecting {
		s.mu.Unlock()
		return
	}
	s.ready = true
	s.setState(models.StateOpen)

	err := s.write(models.FrameTypeJoin, s.joinFrame)
	for _, text := range s.pending {
		if err != nil {
			break
		}
		err = s.write(models.FrameTypeMessage, s.codec.Message(s.identity, text))
	}
	s.pending = nil
	s.mu.Unlock()

	if err != nil {
		s.OnError(err)
	}
}

// OnFrame implements transport.Handler.
func (s *Session) OnFrame(raw string) {
	ev := s.codec.Decode(raw)

	s.mu.Lock()
	if s.state == models.StateClosed {
		s.mu.Unlock()
		s.logger.Debug("dropping frame received after close")
		return
	}
	if ev.Kind == models.EventRaw {
		s.metrics.DecodeFallback()
		s.logger.Debug("frame is not a structured event", "frame", raw)
	}
	s.metrics.EventReceived(ev.Kind)
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	s.drain()
}

// OnClose implements transport.Handler.
func (s *Session) OnClose() {
	s.mu.Lock()
	if s.state >= models.StateClosing {
		s.mu.Unlock()
		return
	}
	s.dead = true
	s.setState(models.StateClosing)
	s.mu.Unlock()

	s.logger.Info("connection closed by server")
	s.finish(nil)
}

// OnError implements transport.Handler.
func (s *Session) OnError(err error) {
	s.mu.Lock()
	if s.state >= models.StateClosing {
		s.mu.Unlock()
		s.logger.Debug("ignoring transport error after close", "error", err)
		return
	}
	s.dead = true
	s.setState(models.StateClosing)
	s.mu.Unlock()

	s.logger.Warn("transport failed", "error", err)
	s.finish(fmt.Errorf("%w: %w", models.ErrTransport, err))
}

// finish moves a closing session to Closed and queues the final events.
func (s *Session) finish(cause error) {
	s.mu.Lock()
	stream := s.stream
	if cause != nil {
		s.queue = append(s.queue, models.ChatEvent{Kind: models.EventError, Text: cause.Error(), Err: cause})
	}
	s.mu.Unlock()

	if stream != nil {
		if err := stream.Close(); err != nil {
			s.logger.Debug("stream close failed", "error", err)
		}
	}

	s.mu.Lock()
	s.setState(models.StateClosed)
	s.queue = append(s.queue, models.ChatEvent{Kind: models.EventDisconnected})
	s.mu.Unlock()

	s.drain()
}

// drain delivers queued events unless another goroutine (or an outer call
// on this one) is already doing so. Frame events still queued once the
// session is Closed are dropped.
func (s *Session) drain() {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	for len(s.queue) > 0 {
		ev := s.queue[0]
		s.queue = s.queue[1:]
		if s.state == models.StateClosed && !isLifecycle(ev.Kind) {
			continue
		}
		s.mu.Unlock()
		s.onEvent(ev)
		s.mu.Lock()
	}
	s.queue = nil
	s.draining = false
	s.mu.Unlock()
}

// write must be called with mu held.
func (s *Session) write(kind models.FrameType, frame string) error {
	if err := s.stream.Send(frame); err != nil {
		return err
	}
	s.metrics.FrameSent(kind)
	return nil
}

// setState must be called with mu held.
func (s *Session) setState(state models.SessionState) {
	if state <= s.state {
		return
	}
	from := s.state
	s.state = state
	s.metrics.StateChanged(from, state)
	s.logger.Debug("session state changed", "from", from.String(), "to", state.String())
}

func isLifecycle(kind models.EventKind) bool {
	return kind == models.EventError || kind == models.EventDisconnected
}

type nopMetrics struct{}

func (nopMetrics) SessionCreated() {}
func (nopMetrics) FrameSent(models.FrameType) {}
func (nopMetrics) EventReceived(models.EventKind) {}
func (nopMetrics) DecodeFallback() {}
func (nopMetrics) StateChanged(models.SessionState, models.SessionState) {}
