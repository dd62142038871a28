package ws

import (
	"context"
	"sync"
	"time"

	"marketplace-chat/backend/pkg/config"
	"marketplace-chat/backend/pkg/logger"
	pkgws "marketplace-chat/backend/pkg/ws"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// ClientOptions tunes a websocket connection
type ClientOptions struct {
	// SendBuffer is how many events may wait for the writer before the client counts as slow
	SendBuffer     int
	WriteTimeout   time.Duration
	PongTimeout    time.Duration
	MaxFrameSize   int64
	EventRate      float64
	EventBurst     int
	CommandTimeout time.Duration
}

// DefaultClientOptions returns sensible defaults
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		SendBuffer:     64,
		WriteTimeout:   10 * time.Second,
		PongTimeout:    60 * time.Second,
		MaxFrameSize:   64 << 10,
		EventRate:      10,
		EventBurst:     20,
		CommandTimeout: 10 * time.Second,
	}
}

// ClientOptionsFromConfig reads the Chat section
func ClientOptionsFromConfig(cfg *config.Config) ClientOptions {
	opts := DefaultClientOptions()
	opts.SendBuffer = cfg.Chat.SendBuffer
	opts.WriteTimeout = cfg.Chat.WriteTimeout
	opts.PongTimeout = cfg.Chat.PongTimeout
	opts.MaxFrameSize = cfg.Chat.MaxFrameSize
	opts.EventRate = cfg.Chat.EventRate
	opts.EventBurst = cfg.Chat.EventBurst
	return opts
}

// Client is one websocket connection. It implements Subscriber.
type Client struct {
	id      string
	userID  string
	conn    *websocket.Conn
	hub     *Hub
	opts    ClientOptions
	limiter *rate.Limiter
	log     *logger.Logger

	send chan pkgws.Event

	// mu orders Enqueue against Close so nothing is sent after done is closed
	mu        sync.RWMutex
	done      chan struct{}
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func newClient(hub *Hub, conn *websocket.Conn, userID string, opts ClientOptions, log *logger.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	return &Client{
		id:      id,
		userID:  userID,
		conn:    conn,
		hub:     hub,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.EventRate), opts.EventBurst),
		log:     &logger.Logger{Logger: log.WithUserID(userID).With("conn_id", id)},
		send:    make(chan pkgws.Event, opts.SendBuffer),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (c *Client) ID() string            { return c.id }
func (c *Client) UserID() string        { return c.userID }
func (c *Client) Done() <-chan struct{} { return c.done }

// Enqueue hands evt to the writer without blocking. A full buffer means the
// peer is not keeping up; the connection is closed and the event dropped.
func (c *Client) Enqueue(evt pkgws.Event) bool {
	c.mu.RLock()
	select {
	case <-c.done:
		c.mu.RUnlock()
		return false
	default:
	}
	select {
	case c.send <- evt:
		c.mu.RUnlock()
		return true
	default:
	}
	c.mu.RUnlock()

	c.log.Warn("Closing slow websocket client", "buffer", cap(c.send))
	c.Close()
	return false
}

// Close tears the connection down. Safe to call from any goroutine, more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		close(c.done)
		c.mu.Unlock()
		c.cancel()
		_ = c.conn.Close()
	})
}

// Start runs the read and write pumps
func (c *Client) Start() {
	c.wg.Add(2)
	go c.writePump()
	go c.readPump()
}

// Wait blocks until both pumps have exited
func (c *Client) Wait() {
	c.wg.Wait()
}

func (c *Client) pingPeriod() time.Duration {
	return c.opts.PongTimeout * 9 / 10
}

func (c *Client) readPump() {
	defer c.wg.Done()
	defer c.Close()

	c.conn.SetReadLimit(c.opts.MaxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Warn("Websocket read failed", "error", err.Error())
			}
			return
		}

		if !c.limiter.Allow() {
			c.Enqueue(pkgws.ErrorEvent{Code: "RATE_LIMIT_EXCEEDED", Message: "Too many frames, slow down"})
			continue
		}

		cmd, err := pkgws.DecodeCommand(data)
		if err != nil {
			c.log.Debug("Rejected websocket frame", "error", err.Error())
			c.Enqueue(pkgws.ErrorEvent{Code: "VALIDATION_ERROR", Message: "Malformed frame"})
			continue
		}

		// commands from one connection are handled in arrival order
		ctx, cancel := context.WithTimeout(c.ctx, c.opts.CommandTimeout)
		c.hub.Dispatch(ctx, c, cmd)
		cancel()
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.pingPeriod())
	defer func() {
		ticker.Stop()
		c.Close()
		c.wg.Done()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return

		case evt := <-c.send:
			data, err := pkgws.EncodeEvent(evt)
			if err != nil {
				c.log.LogError(err, "Failed to encode event", "kind", string(evt.Kind()))
				continue
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
