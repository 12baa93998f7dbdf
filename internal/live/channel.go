package live

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"esgwatch/internal/models"
)

const (
	// DefaultReconnectDelay is the fixed wait before each reconnect attempt.
	DefaultReconnectDelay = 3 * time.Second

	defaultDialTimeout = 10 * time.Second
	livePath           = "/v1/ws/live"
)

var (
	// ErrNotConnected is returned by SendPing when no socket is open.
	ErrNotConnected = errors.New("live channel not connected")

	pingFrame = []byte("ping")
)

// State is the channel's connection state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Handler receives every forwarded live update.
type Handler func(update models.LiveUpdate)

// Timer is a scheduled callback that can be cancelled.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d.
type AfterFunc func(d time.Duration, f func()) Timer

func stdAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Options parameterise the live channel.
type Options struct {
	BaseURL        string
	ReconnectDelay time.Duration
	DialTimeout    time.Duration
	PingInterval   time.Duration
	Dialer         Dialer
	AfterFunc      AfterFunc
}

// Stats counts what happened to inbound payloads and reconnects.
type Stats struct {
	Delivered  uint64
	Control    uint64
	Malformed  uint64
	Reconnects uint64
}

type subscriber struct {
	id uint64
	fn Handler
}

// Channel keeps one logical subscription to the live push endpoint and fans
// updates out to subscribers. Unexpected closes are retried forever at a fixed
// delay, including when the token has been revoked.
type Channel struct {
	opts   Options
	logger zerolog.Logger

	mu      sync.Mutex
	state   State
	target  string
	conn    Conn
	gen     uint64
	timer   Timer
	subs    []subscriber
	nextSub uint64
	stats   Stats
}

// New constructs an idle channel.
func New(opts Options, logger zerolog.Logger) *Channel {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.Dialer == nil {
		opts.Dialer = NewWebsocketDialer(opts.DialTimeout)
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = stdAfterFunc
	}
	return &Channel{
		opts:   opts,
		logger: logger.With().Str("component", "live_channel").Logger(),
	}
}

// BuildTarget derives the push endpoint for token from an http(s) base address.
func BuildTarget(baseURL, token string) string {
	base := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + livePath + "?token=" + url.QueryEscape(token)
}

// Connect starts the connection for token. While a connection is open or being
// established it only refreshes the stored target.
func (c *Channel) Connect(token string) {
	target := BuildTarget(c.opts.BaseURL, token)

	c.mu.Lock()
	c.target = target
	if c.state != StateIdle {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	gen := c.gen
	c.mu.Unlock()

	c.dial(gen)
}

// Subscribe registers handler and returns a func that removes exactly that registration.
func (c *Channel) Subscribe(handler Handler) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs = append(c.subs, subscriber{id: id, fn: handler})
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, s := range c.subs {
			if s.id == id {
				c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
				return
			}
		}
	}
}

// Disconnect cancels a pending reconnect, closes the socket and drops all
// subscribers. It is safe to call in any state.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	conn := c.conn
	c.conn = nil
	c.subs = nil
	c.state = StateIdle
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

// SendPing writes a keepalive frame. The server answers with a pong envelope,
// which is dropped on receipt.
func (c *Channel) SendPing() error {
	c.mu.Lock()
	conn := c.conn
	gen := c.gen
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	if err := conn.WriteText(pingFrame); err != nil {
		c.forceClose(gen, conn, err)
		return err
	}
	return nil
}

// State reports the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stats returns a copy of the payload counters.
func (c *Channel) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *Channel) dial(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateConnecting {
		c.mu.Unlock()
		return
	}
	target := c.target
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.DialTimeout)
	conn, err := c.opts.Dialer.Dial(ctx, target)
	cancel()

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		c.logger.Warn().Err(err).Dur("retry_in", c.opts.ReconnectDelay).Msg("live channel dial failed")
		c.scheduleReconnectLocked(gen)
		c.mu.Unlock()
		return
	}
	c.conn = conn
	c.state = StateOpen
	c.mu.Unlock()

	c.logger.Info().Str("endpoint", redact(target)).Msg("live channel connected")

	go c.readLoop(gen, conn)
	if c.opts.PingInterval > 0 {
		go c.pingLoop(gen, conn)
	}
}

func (c *Channel) scheduleReconnectLocked(gen uint64) {
	c.state = StateConnecting
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = c.opts.AfterFunc(c.opts.ReconnectDelay, func() {
		c.reconnect(gen)
	})
}

func (c *Channel) reconnect(gen uint64) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.stats.Reconnects++
	c.mu.Unlock()

	c.dial(gen)
}

func (c *Channel) readLoop(gen uint64, conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(gen, conn, err)
			return
		}
		c.dispatch(gen, data)
	}
}

func (c *Channel) pingLoop(gen uint64, conn Conn) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for range ticker.C {
		if !c.isCurrent(gen, conn) {
			return
		}
		if err := c.SendPing(); err != nil {
			return
		}
	}
}

// forceClose closes conn after an error; the read loop then takes the close path.
func (c *Channel) forceClose(gen uint64, conn Conn, err error) {
	if !c.isCurrent(gen, conn) {
		return
	}
	c.logger.Debug().Err(err).Msg("live channel error, closing socket")
	_ = conn.Close()
}

func (c *Channel) handleClose(gen uint64, conn Conn, err error) {
	_ = conn.Close()

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.conn != conn {
		return
	}
	c.conn = nil
	c.logger.Info().Err(err).Dur("retry_in", c.opts.ReconnectDelay).Msg("live channel disconnected, reconnecting")
	c.scheduleReconnectLocked(gen)
}

func (c *Channel) dispatch(gen uint64, data []byte) {
	update, err := Decode(data)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	if err != nil {
		var ignored *IgnoredError
		control := errors.As(err, &ignored) && ignored.Reason == ReasonControl
		if control {
			c.stats.Control++
		} else {
			c.stats.Malformed++
		}
		c.mu.Unlock()
		if !control {
			c.logger.Debug().Err(err).Int("bytes", len(data)).Msg("dropping undecodable live payload")
		}
		return
	}
	c.stats.Delivered++
	subs := append([]subscriber(nil), c.subs...)
	c.mu.Unlock()

	for _, s := range subs {
		s.fn(update)
	}
}

func (c *Channel) isCurrent(gen uint64, conn Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.gen && c.conn == conn
}

func redact(target string) string {
	if i := strings.Index(target, "?"); i >= 0 {
		return target[:i]
	}
	return target
}
