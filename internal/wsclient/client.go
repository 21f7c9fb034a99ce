// Package wsclient is the reconnecting websocket client shared by the
// activity tracker and the dashboard consumer.
package wsclient

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/quartz"
	"github.com/rs/zerolog"
)

// Policy bounds reconnection. The n-th consecutive retry waits
// Initial*2^(n-1), capped at Max. After MaxAttempts consecutive failed dials
// (the first dial included) the client gives up.
type Policy struct {
	Initial     time.Duration
	Max         time.Duration
	MaxAttempts int
}

func DefaultPolicy() Policy {
	return Policy{Initial: time.Second, Max: 30 * time.Second, MaxAttempts: 5}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.Initial <= 0 {
		p.Initial = d.Initial
	}
	if p.Max <= 0 {
		p.Max = d.Max
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	return p
}

func (p Policy) newBackOff() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.Initial,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         p.Max,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}

type Config struct {
	URL    string
	Dialer Dialer
	Policy Policy
	Clock  quartz.Clock
	Logger zerolog.Logger

	// OnMessage runs on the read goroutine for every inbound frame.
	OnMessage func(data []byte)
	// OnStateChange reports connected/disconnected transitions.
	OnStateChange func(connected bool)
	// OnExhausted runs once when the client stops retrying.
	OnExhausted func()
}

// Client keeps one websocket connection open, reconnecting with
// exponential backoff. Sends are fire-and-forget and are dropped while
// disconnected.
type Client struct {
	cfg     Config
	backoff *backoff.ExponentialBackOff

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	started   bool
	closed    bool
	exhausted bool
	failures  int
	dials     int
	conn      Conn
	out       chan []byte
	retry     *quartz.Timer
	wg        sync.WaitGroup
}

func New(cfg Config) *Client {
	if cfg.Dialer == nil {
		cfg.Dialer = GorillaDialer{}
	}
	if cfg.Clock == nil {
		cfg.Clock = quartz.NewReal()
	}
	cfg.Policy = cfg.Policy.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:     cfg,
		backoff: cfg.Policy.newBackOff(),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start dials in the background. Calling it more than once has no effect.
func (c *Client) Start() {
	c.mu.Lock()
	if c.started || c.closed {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		c.connect()
	}()
}

// Send queues data for the current connection. It reports false when the
// client is not connected or the queue is full.
func (c *Client) Send(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return false
	}
	select {
	case c.out <- data:
		return true
	default:
		return false
	}
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Exhausted reports whether the client gave up reconnecting.
func (c *Client) Exhausted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exhausted
}

// Dials reports how many dial attempts were made.
func (c *Client) Dials() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dials
}

// Close stops reconnecting and closes the current connection. It waits for
// the client's goroutines to exit.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	retry := c.retry
	c.retry = nil
	conn := c.conn
	c.mu.Unlock()

	if retry != nil {
		retry.Stop("wsclient", "reconnect")
	}
	c.cancel()
	if conn != nil {
		_ = conn.Close()
	}
	c.wg.Wait()
}

func (c *Client) connect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.retry = nil
	c.dials++
	c.mu.Unlock()

	conn, err := c.cfg.Dialer.Dial(c.ctx, c.cfg.URL)
	if err != nil {
		c.onDialFailure(err)
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.failures = 0
	c.backoff.Reset()
	c.conn = conn
	out := make(chan []byte, 64)
	c.out = out
	done := make(chan struct{})
	c.wg.Add(2)
	c.mu.Unlock()

	c.cfg.Logger.Debug().Str("url", c.cfg.URL).Msg("Connected")
	c.notify(true)

	go c.writeLoop(conn, out, done)
	go c.readLoop(conn, done)
}

func (c *Client) onDialFailure(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.failures++
	if c.failures >= c.cfg.Policy.MaxAttempts {
		c.exhausted = true
		c.mu.Unlock()
		c.cfg.Logger.Debug().Err(err).Int("attempts", c.failures).Msg("Giving up reconnecting")
		if c.cfg.OnExhausted != nil {
			c.cfg.OnExhausted()
		}
		return
	}
	delay := c.scheduleLocked()
	failures := c.failures
	c.mu.Unlock()

	c.cfg.Logger.Debug().Err(err).Int("failures", failures).Dur("retry_in", delay).Msg("Dial failed")
}

// scheduleLocked arms the reconnect timer. The callback must not call back
// into the clock.
func (c *Client) scheduleLocked() time.Duration {
	delay := c.backoff.NextBackOff()
	if delay == backoff.Stop || delay > c.cfg.Policy.Max {
		delay = c.cfg.Policy.Max
	}
	c.retry = c.cfg.Clock.AfterFunc(delay, func() {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.wg.Add(1)
		c.mu.Unlock()

		go func() {
			defer c.wg.Done()
			c.connect()
		}()
	}, "wsclient", "reconnect")
	return delay
}

func (c *Client) readLoop(conn Conn, done chan struct{}) {
	defer c.wg.Done()
	defer close(done)

	for {
		data, err := conn.Read()
		if err != nil {
			break
		}
		if c.cfg.OnMessage != nil {
			c.cfg.OnMessage(data)
		}
	}

	_ = conn.Close()

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.out = nil
	}
	if c.closed {
		c.mu.Unlock()
		c.notify(false)
		return
	}
	c.scheduleLocked()
	c.mu.Unlock()

	c.cfg.Logger.Debug().Str("url", c.cfg.URL).Msg("Connection lost, reconnecting")
	c.notify(false)
}

func (c *Client) writeLoop(conn Conn, out chan []byte, done chan struct{}) {
	defer c.wg.Done()
	for {
		select {
		case data := <-out:
			if err := conn.Write(data); err != nil {
				_ = conn.Close()
				return
			}
		case <-done:
			return
		}
	}
}

func (c *Client) notify(connected bool) {
	if c.cfg.OnStateChange != nil {
		c.cfg.OnStateChange(connected)
	}
}
