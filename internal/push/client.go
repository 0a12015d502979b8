package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/adamavenir/mealsync/internal/types"
)

const (
	defaultReadTimeout  = 90 * time.Second
	defaultPingInterval = 30 * time.Second
	writeTimeout        = 10 * time.Second
	defaultReadLimit    = int64(64 << 10)
)

var (
	connectedGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mealsync_push_connected",
		Help: "1 while the push channel is connected",
	})
	connectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mealsync_push_connects_total",
		Help: "Push channel connection attempts by result",
	}, []string{"result"})
	messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mealsync_push_messages_total",
		Help: "Push messages received by result",
	}, []string{"result"})
)

// Handler processes one decoded push message. Messages are delivered one
// at a time in arrival order.
type Handler func(ctx context.Context, msg types.PushMessage) error

// Options configures the push client.
type Options struct {
	URL          string
	Token        string
	ReadTimeout  time.Duration
	PingInterval time.Duration
	ReadLimit    int64
	Dialer       *websocket.Dialer
	// NewBackOff builds the reconnect policy. It defaults to an exponential
	// backoff that never gives up.
	NewBackOff func() backoff.BackOff
	// OnConnect runs in its own goroutine after every closed -> open transition.
	OnConnect func(ctx context.Context)
	// OnDisconnect runs after a connection is lost.
	OnDisconnect func(err error)
}

// Client keeps a push channel open and feeds its messages to a handler.
type Client struct {
	opts      Options
	handler   Handler
	logger    *slog.Logger
	connected atomic.Bool
}

// New creates a push client.
func New(opts Options, handler Handler, logger *slog.Logger) (*Client, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("push url is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("push handler is required")
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaultReadTimeout
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = defaultReadLimit
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.NewBackOff == nil {
		opts.NewBackOff = defaultBackOff
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		opts:    opts,
		handler: handler,
		logger:  logger.With(slog.String("component", "push")),
	}, nil
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = time.Minute
	b.MaxElapsedTime = 0
	return b
}

// Connected reports whether the channel is currently open.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Run connects and reads until ctx is done, reconnecting with backoff. It
// returns nil on cancellation and an error only when the backoff policy
// gives up.
func (c *Client) Run(ctx context.Context) error {
	policy := c.opts.NewBackOff()
	var hooks sync.WaitGroup
	defer hooks.Wait()

	for {
		if ctx.Err() != nil {
			return nil
		}

		conn, err := c.dial(ctx)
		if err != nil {
			connectsTotal.WithLabelValues("error").Inc()
			wait := policy.NextBackOff()
			if wait == backoff.Stop {
				return fmt.Errorf("push channel: giving up: %w", err)
			}
			c.logger.Warn("push connect failed", slog.Any("error", err), slog.Duration("retry_in", wait))
			if !sleep(ctx, wait) {
				return nil
			}
			continue
		}

		connectsTotal.WithLabelValues("ok").Inc()
		policy.Reset()
		c.setConnected(true)
		c.logger.Info("push channel connected", slog.String("url", c.opts.URL))
		if c.opts.OnConnect != nil {
			hooks.Add(1)
			go func() {
				defer hooks.Done()
				c.opts.OnConnect(ctx)
			}()
		}

		err = c.readLoop(ctx, conn)
		c.setConnected(false)
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn("push channel disconnected", slog.Any("error", err))
		if c.opts.OnDisconnect != nil {
			c.opts.OnDisconnect(err)
		}

		wait := policy.NextBackOff()
		if wait == backoff.Stop {
			return fmt.Errorf("push channel: giving up: %w", err)
		}
		if !sleep(ctx, wait) {
			return nil
		}
	}
}

func (c *Client) setConnected(value bool) {
	c.connected.Store(value)
	if value {
		connectedGauge.Set(1)
	} else {
		connectedGauge.Set(0)
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.opts.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Token)
	}
	conn, resp, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", c.opts.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", c.opts.URL, err)
	}
	return conn, nil
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)
	var closeOnce sync.Once
	closeConn := func() { closeOnce.Do(func() { _ = conn.Close() }) }
	defer closeConn()

	conn.SetReadLimit(c.opts.ReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	})
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	go func() {
		ticker := time.NewTicker(c.opts.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				closeConn()
				return
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
					closeConn()
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))

		var msg types.PushMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			messagesTotal.WithLabelValues("malformed").Inc()
			c.logger.Warn("skipping malformed push message", slog.Any("error", err), slog.Int("bytes", len(data)))
			continue
		}
		if err := c.handler(ctx, msg); err != nil {
			messagesTotal.WithLabelValues("error").Inc()
			c.logger.Warn("push message not applied",
				slog.String("meal_id", msg.MealID),
				slog.String("event", string(msg.Event)),
				slog.Any("error", err),
			)
			continue
		}
		messagesTotal.WithLabelValues("ok").Inc()
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
