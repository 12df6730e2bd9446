package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"roomchat/internal/transport"

	"github.com/gorilla/websocket"
)

var (
	ErrNotConnected = errors.New("websocket is not connected")
	ErrClosed       = errors.New("websocket is closed")
)

type wsConnection interface {
	Close() error
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
}

type dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (wsConnection, error)
}

type gorillaDialer struct {
	d *websocket.Dialer
}

func (g gorillaDialer) DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (wsConnection, error) {
	conn, resp, err := g.d.DialContext(ctx, urlStr, requestHeader)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

type Config struct {
	URL              string
	Header           http.Header
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	Logger           *slog.Logger
}

// Connection is a transport.Stream over a gorilla websocket client.
type Connection struct {
	config Config
	dialer dialer
	logger *slog.Logger

	mu         sync.Mutex
	ws         wsConnection
	cancelDial context.CancelFunc
	closed     bool
	// cause is set when the connection was closed because ctx ended
	// rather than by an explicit Close.
	cause error
}

func NewConnection(config Config) *Connection {
	if config.HandshakeTimeout == 0 {
		config.HandshakeTimeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Connection{
		config: config,
		dialer: gorillaDialer{d: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: config.HandshakeTimeout,
		}},
		logger: config.Logger.With("url", config.URL),
	}
}

// Factory returns a transport.Factory producing connections to config.URL.
func Factory(config Config) transport.Factory {
	return func() transport.Stream {
		return NewConnection(config)
	}
}

// Start dials in the background, reports OnReady and then pumps inbound
// frames to h until the connection ends.
func (c *Connection) Start(ctx context.Context, h transport.Handler) {
	dialCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancelDial = cancel
	c.mu.Unlock()

	go c.run(ctx, dialCtx, h)
}

func (c *Connection) run(ctx, dialCtx context.Context, h transport.Handler) {
	conn, err := c.dialer.DialContext(dialCtx, c.config.URL, c.config.Header)
	if err != nil {
		if !c.isClosed() {
			h.OnError(fmt.Errorf("failed to dial %s: %w", c.config.URL, err))
		}
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.ws = conn
	c.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		c.shutdown(ctx.Err())
	})
	defer stop()

	h.OnReady()
	c.pumpMessages(h)
}

func (c *Connection) pumpMessages(h transport.Handler) {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closed, cause := c.closed, c.cause
			c.mu.Unlock()

			switch {
			case closed && cause == nil:
				// Closed by our own Close; nobody is listening anymore.
			case closed:
				c.logger.Debug("websocket closed by context", "cause", cause)
				h.OnClose()
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				h.OnClose()
			default:
				h.OnError(err)
			}
			return
		}
		h.OnFrame(string(data))
	}
}

func (c *Connection) Send(frame string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.ws == nil {
		return ErrNotConnected
	}
	if c.config.WriteTimeout > 0 {
		if err := c.ws.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
			return err
		}
	}
	return c.ws.WriteMessage(websocket.TextMessage, []byte(frame))
}

func (c *Connection) Close() error {
	return c.shutdown(nil)
}

func (c *Connection) shutdown(cause error) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.cause = cause
	conn := c.ws
	if c.cancelDial != nil {
		c.cancelDial()
	}
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		c.logger.Debug("failed to write close message", "error", err)
	}
	return conn.Close()
}

func (c *Connection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
