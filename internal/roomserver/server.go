// Package roomserver is a small chat server for local development and
// tests. It understands the frames of both client variants and answers
// with structured events.
package roomserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"roomchat/internal/models"
	"roomchat/internal/protocol"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	// Greeting, when set, is sent as a plain-text frame right after the upgrade.
	Greeting string
	Logger   *slog.Logger
}

type Server struct {
	hub      *Hub
	upgrader *websocket.Upgrader
	greeting string
	logger   *slog.Logger

	mu     sync.Mutex
	frames []string
}

func NewServer(config Config) *Server {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Server{
		hub:      NewHub(config.Logger),
		greeting: config.Greeting,
		logger:   config.Logger,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for now
			},
		},
	}
}

func (s *Server) Hub() *Hub {
	return s.hub
}

// Frames returns every frame received so far, across all connections.
func (s *Server) Frames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.frames...)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("error upgrading to websocket", "error", err)
		return
	}

	defer func() {
		if err := ws.Close(); err != nil {
			s.logger.Debug("error closing websocket", "error", err)
		}
	}()

	m := &member{send: make(chan string, 100)}
	if s.greeting != "" {
		m.send <- s.greeting
	}

	ctx, cancel := context.WithCancel(r.Context())
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return s.readLoop(ws, m)
	})
	g.Go(func() error {
		// Unblocks the reader when writing fails or the request ends.
		defer func() { _ = ws.Close() }()
		return s.writeLoop(gCtx, ws, m)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Debug("connection ended", "error", err)
	}
	s.hub.Leave(m)
}

func (s *Server) readLoop(ws *websocket.Conn, m *member) error {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		raw := string(data)
		s.record(raw)
		s.handleFrame(m, raw)
	}
}

func (s *Server) writeLoop(ctx context.Context, ws *websocket.Conn, m *member) error {
	for {
		select {
		case frame := <-m.send:
			if err := ws.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// handleFrame accepts textual commands ("join <user> <room>",
// "message <text>"), JSON frames and the bare "leave" string.
func (s *Server) handleFrame(m *member, raw string) {
	if frame, ok := protocol.ParseFrame(raw); ok {
		switch frame.Type {
		case models.FrameTypeJoin:
			s.join(m, frame.User, frame.Room)
		case models.FrameTypeMessage:
			if frame.Message != nil {
				s.hub.Dispatch(m, *frame.Message)
			}
		case models.FrameTypeLeave:
			s.hub.Leave(m)
		default:
			s.logger.Debug("ignoring frame", "frame", raw)
		}
		return
	}

	command, rest, _ := strings.Cut(raw, " ")
	switch command {
	case "join":
		user, room, ok := strings.Cut(rest, " ")
		if ok {
			s.join(m, user, room)
		}
	case "message":
		s.hub.Dispatch(m, rest)
	case "leave":
		s.hub.Leave(m)
	default:
		s.logger.Debug("ignoring frame", "frame", raw)
	}
}

func (s *Server) join(m *member, user, room string) {
	if user == "" || room == "" {
		return
	}
	s.hub.Leave(m)
	m.user, m.room = user, room
	s.hub.Join(m)
}

func (s *Server) record(raw string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, raw)
}
