// Package signal is the websocket client for the signaling server the media
// engine talks to.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

const (
	DefaultSendBuffer   = 32
	DefaultWriteTimeout = 5 * time.Second
)

type Options struct {
	Header       http.Header
	SendBuffer   int
	WriteTimeout time.Duration
	Dialer       *websocket.Dialer
}

// Client is one signaling connection. Messages are delivered to onMessage
// from the read goroutine, in arrival order.
type Client struct {
	conn         *websocket.Conn
	send         chan []byte
	writeTimeout time.Duration
	cancel       context.CancelFunc
	logger       zerolog.Logger

	onMessage func(Message)
	onClose   func(error)
	closeOnce sync.Once

	mu     sync.RWMutex
	closed bool
}

// Dial connects to url. onClose runs once when the connection ends; err is
// nil when Close was called locally.
func Dial(ctx context.Context, url string, opts Options, onMessage func(Message), onClose func(error)) (*Client, error) {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultSendBuffer
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	ws, _, err := dialer.DialContext(ctx, url, opts.Header)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:         ws,
		send:         make(chan []byte, opts.SendBuffer),
		writeTimeout: opts.WriteTimeout,
		cancel:       cancel,
		logger:       log.With().Str("module", "signal").Str("url", url).Logger(),
		onMessage:    onMessage,
		onClose:      onClose,
	}
	go c.writePump(runCtx)
	go c.readPump(runCtx)
	c.logger.Debug().Msg("signal connected")
	return c, nil
}

// Send queues msg without blocking.
func (c *Client) Send(msg Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.TrySend(b)
}

func (c *Client) TrySend(b []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- b:
	default:
		return ErrBackpressure
	}
	return nil
}

// Close shuts the connection down; onClose is called with a nil error.
func (c *Client) Close() {
	c.shutdown(nil)
}

func (c *Client) shutdown(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.cancel()
	if cause == nil {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
	}
	_ = c.conn.Close()
	c.mu.Unlock()

	c.closeOnce.Do(func() {
		if c.onClose != nil {
			c.onClose(cause)
		}
	})
}
