package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"roomchat/internal/models"
	"roomchat/internal/protocol"
	"roomchat/internal/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	mu       sync.Mutex
	handler  transport.Handler
	frames   []string
	closes   int
	started  bool
	closed   bool
	sendErr  error
	closeErr error
}

func (f *fakeStream) Start(ctx context.Context, h transport.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
	f.started = true
}

func (f *fakeStream) Send(frame string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("stream closed")
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	f.closed = true
	return f.closeErr
}

func (f *fakeStream) Frames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.frames...)
}

type recorder struct {
	mu     sync.Mutex
	events []models.ChatEvent
}

func (r *recorder) handle(ev models.ChatEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) Events() []models.ChatEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.ChatEvent(nil), r.events...)
}

func (r *recorder) Count(kind models.EventKind) int {
	n := 0
	for _, ev := range r.Events() {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

var bob = models.Identity{Username: "bob", Room: "test"}

func newSession(t *testing.T, codec protocol.Codec, onEvent func(models.ChatEvent)) (*Session, *fakeStream) {
	t.Helper()
	stream := &fakeStream{}
	s, err := New(Config{
		Identity:  bob,
		Transport: func() transport.Stream { return stream },
		Codec:     codec,
		OnEvent:   onEvent,
	})
	require.NoError(t, err)
	return s, stream
}

func codecs() []protocol.Codec {
	return []protocol.Codec{protocol.Textual{}, protocol.Structured{}, protocol.Structured{LeaveLiteral: true}}
}

func TestNew_Validation(t *testing.T) {
	factory := func() transport.Stream { return &fakeStream{} }
	noop := func(models.ChatEvent) {}

	tests := []struct {
		name     string
		config   Config
		identity bool
	}{
		{"uppercase room", Config{Identity: models.Identity{Username: "bob", Room: "Test"}, Transport: factory, OnEvent: noop}, true},
		{"empty room", Config{Identity: models.Identity{Username: "bob"}, Transport: factory, OnEvent: noop}, true},
		{"empty username", Config{Identity: models.Identity{Room: "test"}, Transport: factory, OnEvent: noop}, true},
		{"room with space", Config{Identity: models.Identity{Username: "bob", Room: "a b"}, Transport: factory, OnEvent: noop}, true},
		{"textual username with space", Config{Identity: models.Identity{Username: "bob smith", Room: "test"}, Transport: factory, OnEvent: noop, Codec: protocol.Textual{}}, true},
		{"missing transport", Config{Identity: bob, OnEvent: noop}, false},
		{"missing handler", Config{Identity: bob, Transport: factory}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.config)
			require.Error(t, err)
			assert.Nil(t, s)
			assert.Equal(t, tt.identity, errors.Is(err, models.ErrInvalidIdentity))
		})
	}
}

func TestNew_UppercaseRoomSendsNothing(t *testing.T) {
	created := false
	_, err := New(Config{
		Identity: models.Identity{Username: "bob", Room: "Lobby"},
		Transport: func() transport.Stream {
			created = true
			return &fakeStream{}
		},
		OnEvent: func(models.ChatEvent) {},
	})
	require.ErrorIs(t, err, models.ErrInvalidIdentity)
	assert.False(t, created, "no stream may be created for an invalid identity")
}

func TestSession_Scenario(t *testing.T) {
	rec := &recorder{}
	s, stream := newSession(t, protocol.Structured{}, rec.handle)

	require.NoError(t, s.Open(context.Background()))
	assert.Equal(t, models.StateConnecting, s.State())
	assert.Empty(t, stream.Frames())

	stream.handler.OnReady()
	assert.Equal(t, models.StateOpen, s.State())
	assert.Equal(t, []string{`{"type":"join","user":"bob","room":"test"}`}, stream.Frames())

	stream.handler.OnFrame(`{"type":"message","user":"ann","message":"hi"}`)
	require.Len(t, rec.Events(), 1)
	assert.Equal(t, models.ChatEvent{Kind: models.EventMessage, User: "ann", Text: "hi"}, rec.Events()[0])

	require.NoError(t, s.Close())
	assert.Equal(t, models.StateClosed, s.State())
	assert.Equal(t, []string{
		`{"type":"join","user":"bob","room":"test"}`,
		`{"type":"leave","user":"bob","room":"test"}`,
	}, stream.Frames())
	assert.Equal(t, 1, stream.closes)

	events := rec.Events()
	require.Len(t, events, 2)
	assert.Equal(t, models.EventDisconnected, events[1].Kind)
}

func TestSession_QueuedSendsFlushAfterJoin(t *testing.T) {
	for _, codec := range codecs() {
		t.Run(codec.Name(), func(t *testing.T) {
			s, stream := newSession(t, codec, func(models.ChatEvent) {})

			require.NoError(t, s.Send("before open"))
			require.NoError(t, s.Open(context.Background()))
			for i := 0; i < 5; i++ {
				require.NoError(t, s.Send(fmt.Sprintf("msg %d", i)))
			}
			assert.Empty(t, stream.Frames(), "nothing is written before ready")

			stream.handler.OnReady()
			require.NoError(t, s.Send("after open"))

			join, err := codec.Join(bob)
			require.NoError(t, err)
			want := []string{join, codec.Message(bob, "before open")}
			for i := 0; i < 5; i++ {
				want = append(want, codec.Message(bob, fmt.Sprintf("msg %d", i)))
			}
			want = append(want, codec.Message(bob, "after open"))
			assert.Equal(t, want, stream.Frames())
		})
	}
}

func TestSession_SendErrors(t *testing.T) {
	s, stream := newSession(t, protocol.Structured{}, func(models.ChatEvent) {})

	assert.ErrorIs(t, s.Send(""), models.ErrEmptyMessage)

	require.NoError(t, s.Open(context.Background()))
	stream.handler.OnReady()
	assert.ErrorIs(t, s.Send(""), models.ErrEmptyMessage)
	assert.Len(t, stream.Frames(), 1, "empty message must not be written")

	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Send("late"), models.ErrSessionClosed)
	assert.ErrorIs(t, s.Open(context.Background()), models.ErrSessionClosed)
}

func TestSession_SendWhileClosing(t *testing.T) {
	s, stream := newSession(t, protocol.Structured{}, func(models.ChatEvent) {})
	require.NoError(t, s.Open(context.Background()))
	stream.handler.OnReady()

	// Hold the stream close so the session stays in Closing.
	blocking := &blockingStream{fakeStream: stream, closing: make(chan struct{}), release: make(chan struct{})}
	s.stream = blocking

	done := make(chan struct{})
	go func() {
		_ = s.Close()
		close(done)
	}()
	<-blocking.closing
	assert.Equal(t, models.StateClosing, s.State())
	sendErr := s.Send("too late")
	close(blocking.release)
	<-done

	assert.ErrorIs(t, sendErr, models.ErrNotOpen)
	assert.Equal(t, models.StateClosed, s.State())
}

type blockingStream struct {
	*fakeStream
	closing chan struct{}
	release chan struct{}
}

func (b *blockingStream) Close() error {
	close(b.closing)
	<-b.release
	return b.fakeStream.Close()
}

func TestSession_OpenTwice(t *testing.T) {
	s, _ := newSession(t, protocol.Structured{}, func(models.ChatEvent) {})
	require.NoError(t, s.Open(context.Background()))
	assert.ErrorIs(t, s.Open(context.Background()), models.ErrAlreadyOpen)
}

func TestSession_CloseIdempotent(t *testing.T) {
	for _, codec := range codecs() {
		t.Run(codec.Name(), func(t *testing.T) {
			rec := &recorder{}
			s, stream := newSession(t, codec, rec.handle)
			require.NoError(t, s.Open(context.Background()))
			stream.handler.OnReady()

			require.NoError(t, s.Close())
			require.NoError(t, s.Close())

			leave, hasLeave := codec.Leave(bob)
			leaves := 0
			for _, f := range stream.Frames() {
				if hasLeave && f == leave {
					leaves++
				}
			}
			if hasLeave {
				assert.Equal(t, 1, leaves)
			} else {
				assert.Len(t, stream.Frames(), 1, "only the join frame is written")
			}
			assert.Equal(t, 1, stream.closes)
			assert.Equal(t, 1, rec.Count(models.EventDisconnected))
		})
	}
}

func TestSession_CloseAfterPeerClosedSkipsLeave(t *testing.T) {
	rec := &recorder{}
	s, stream := newSession(t, protocol.Structured{}, rec.handle)
	require.NoError(t, s.Open(context.Background()))
	stream.handler.OnReady()

	stream.handler.OnClose()
	assert.Equal(t, models.StateClosed, s.State())

	require.NoError(t, s.Close())
	assert.Len(t, stream.Frames(), 1, "no leave is announced on a dead connection")
	assert.Equal(t, 1, rec.Count(models.EventDisconnected))
	assert.Equal(t, 0, rec.Count(models.EventError))
}

func TestSession_CloseBeforeReady(t *testing.T) {
	rec := &recorder{}
	s, stream := newSession(t, protocol.Structured{}, rec.handle)
	require.NoError(t, s.Open(context.Background()))
	require.NoError(t, s.Send("queued"))

	require.NoError(t, s.Close())
	stream.handler.OnReady()

	assert.Empty(t, stream.Frames())
	assert.Equal(t, models.StateClosed, s.State())
	assert.Equal(t, 1, rec.Count(models.EventDisconnected))
}

func TestSession_CloseBeforeOpen(t *testing.T) {
	rec := &recorder{}
	s, stream := newSession(t, protocol.Structured{}, rec.handle)

	require.NoError(t, s.Close())
	assert.False(t, stream.started)
	assert.Equal(t, models.StateClosed, s.State())
	assert.Equal(t, []models.ChatEvent{{Kind: models.EventDisconnected}}, rec.Events())
}

func TestSession_DecodeFallback(t *testing.T) {
	for _, codec := range codecs() {
		t.Run(codec.Name(), func(t *testing.T) {
			rec := &recorder{}
			s, stream := newSession(t, codec, rec.handle)
			require.NoError(t, s.Open(context.Background()))
			stream.handler.OnReady()

			stream.handler.OnFrame("Welcome to room test!")
			assert.Equal(t, []models.ChatEvent{{Kind: models.EventRaw, Text: "Welcome to room test!"}}, rec.Events())
		})
	}
}

func TestSession_InboundOrder(t *testing.T) {
	rec := &recorder{}
	s, stream := newSession(t, protocol.Structured{}, rec.handle)
	require.NoError(t, s.Open(context.Background()))
	stream.handler.OnReady()

	stream.handler.OnFrame(`{"type":"join","user":"ann"}`)
	stream.handler.OnFrame(`not json`)
	stream.handler.OnFrame(`{"type":"message","user":"ann","message":"hi"}`)
	stream.handler.OnFrame(`{"type":"leave","user":"ann"}`)

	assert.Equal(t, []models.ChatEvent{
		{Kind: models.EventJoined, User: "ann"},
		{Kind: models.EventRaw, Text: "not json"},
		{Kind: models.EventMessage, User: "ann", Text: "hi"},
		{Kind: models.EventLeft, User: "ann"},
	}, rec.Events())
}

func TestSession_CloseFromCallback(t *testing.T) {
	rec := &recorder{}
	var s *Session
	var stream *fakeStream
	s, stream = newSession(t, protocol.Structured{}, func(ev models.ChatEvent) {
		rec.handle(ev)
		if ev.Kind == models.EventMessage && ev.Text == "bye" {
			require.NoError(t, s.Close())
		}
	})
	require.NoError(t, s.Open(context.Background()))
	stream.handler.OnReady()

	stream.handler.OnFrame(`{"type":"message","user":"ann","message":"bye"}`)
	stream.handler.OnFrame(`{"type":"message","user":"ann","message":"late"}`)

	assert.Equal(t, []models.ChatEvent{
		{Kind: models.EventMessage, User: "ann", Text: "bye"},
		{Kind: models.EventDisconnected},
	}, rec.Events())
	assert.Equal(t, models.StateClosed, s.State())
	assert.Contains(t, stream.Frames(), `{"type":"leave","user":"bob","room":"test"}`)
}

func TestSession_TransportError(t *testing.T) {
	rec := &recorder{}
	s, stream := newSession(t, protocol.Structured{}, rec.handle)
	require.NoError(t, s.Open(context.Background()))
	stream.handler.OnReady()

	stream.handler.OnError(errors.New("connection reset"))
	stream.handler.OnError(errors.New("again"))
	stream.handler.OnClose()
	stream.handler.OnFrame(`{"type":"message","user":"ann","message":"late"}`)

	events := rec.Events()
	require.Len(t, events, 2)
	assert.Equal(t, models.EventError, events[0].Kind)
	assert.ErrorIs(t, events[0].Err, models.ErrTransport)
	assert.Contains(t, events[0].Text, "connection reset")
	assert.Equal(t, models.EventDisconnected, events[1].Kind)

	assert.Equal(t, models.StateClosed, s.State())
	assert.Len(t, stream.Frames(), 1, "no leave after a transport error")
	assert.NoError(t, s.Close())
}

func TestSession_WriteFailure(t *testing.T) {
	rec := &recorder{}
	s, stream := newSession(t, protocol.Structured{}, rec.handle)
	require.NoError(t, s.Open(context.Background()))
	stream.handler.OnReady()

	stream.sendErr = errors.New("broken pipe")
	err := s.Send("hello")
	require.Error(t, err)

	assert.Equal(t, models.StateClosed, s.State())
	assert.Equal(t, 1, rec.Count(models.EventError))
	assert.Equal(t, 1, rec.Count(models.EventDisconnected))
}

func TestSession_DialFailure(t *testing.T) {
	rec := &recorder{}
	s, stream := newSession(t, protocol.Structured{}, rec.handle)
	require.NoError(t, s.Send("queued"))
	require.NoError(t, s.Open(context.Background()))

	stream.handler.OnError(errors.New("connection refused"))

	assert.Empty(t, stream.Frames())
	assert.Equal(t, models.StateClosed, s.State())
	events := rec.Events()
	require.Len(t, events, 2)
	assert.Equal(t, models.EventError, events[0].Kind)
	assert.Equal(t, models.EventDisconnected, events[1].Kind)
}

type countingMetrics struct {
	mu        sync.Mutex
	created   int
	sent      map[models.FrameType]int
	received  map[models.EventKind]int
	fallbacks int
	states    []models.SessionState
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{sent: map[models.FrameType]int{}, received: map[models.EventKind]int{}}
}

func (m *countingMetrics) SessionCreated() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created++
}

func (m *countingMetrics) FrameSent(kind models.FrameType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent[kind]++
}

func (m *countingMetrics) EventReceived(kind models.EventKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.received[kind]++
}

func (m *countingMetrics) DecodeFallback() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallbacks++
}

func (m *countingMetrics) StateChanged(_, to models.SessionState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = append(m.states, to)
}

func TestSession_Metrics(t *testing.T) {
	m := newCountingMetrics()
	stream := &fakeStream{}
	s, err := New(Config{
		Identity:  bob,
		Transport: func() transport.Stream { return stream },
		OnEvent:   func(models.ChatEvent) {},
		Metrics:   m,
	})
	require.NoError(t, err)

	require.NoError(t, s.Open(context.Background()))
	stream.handler.OnReady()
	require.NoError(t, s.Send("one"))
	stream.handler.OnFrame(`{"type":"join","user":"ann"}`)
	stream.handler.OnFrame(`status`)
	require.NoError(t, s.Close())

	assert.Equal(t, map[models.FrameType]int{
		models.FrameTypeJoin:    1,
		models.FrameTypeMessage: 1,
		models.FrameTypeLeave:   1,
	}, m.sent)
	assert.Equal(t, map[models.EventKind]int{models.EventJoined: 1, models.EventRaw: 1}, m.received)
	assert.Equal(t, 1, m.created)
	assert.Equal(t, 1, m.fallbacks)
	assert.Equal(t, []models.SessionState{models.StateOpen, models.StateClosing, models.StateClosed}, m.states)
}
