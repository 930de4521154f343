// Package client is the facade the rest of the process talks to. It owns the
// single active transport driver, swaps it on reset and runs the receive
// loop.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"aprslink/pkg/dedup"
	"aprslink/pkg/packet"
	"aprslink/pkg/transport"
)

// ErrNotRunning is returned by Send before Connect succeeded or after Close.
var ErrNotRunning = errors.New("client: not running")

// DriverSource builds drivers; *transport.Registry is the usual one.
type DriverSource interface {
	GetDriver() (transport.Driver, error)
}

// Handler receives one decoded packet, or with raw consumption the frame
// alone (p is nil then).
type Handler func(p *packet.Packet, f *transport.RawFrame)

// Options configure a Client. Zero values pick defaults.
type Options struct {
	AutoConnect        bool
	PollTimeout        time.Duration
	ReconnectPerMinute int
	Filter             string
	// Dedup, when set, drops decoded packets already seen within its window.
	Dedup      *dedup.Cache
	Log        *zap.Logger
	Registerer prometheus.Registerer
}

type slot struct{ d transport.Driver }

// Client multiplexes calls onto the active driver. It is safe for
// concurrent use; one goroutine should call Run.
type Client struct {
	src         DriverSource
	log         *zap.Logger
	autoConnect bool
	poll        time.Duration
	limiter     *rate.Limiter
	dedup       *dedup.Cache
	resets      prometheus.Counter
	duplicates  prometheus.Counter
	sessionID   string

	// mu serializes connect, reset and close; readers use active directly.
	mu     sync.Mutex
	active atomic.Pointer[slot]
	filter string

	running  atomic.Bool
	closed   atomic.Bool
	baseline atomic.Bool
}

// New returns an idle client. Nothing is dialled until Connect or Run.
func New(src DriverSource, o Options) *Client {
	log := o.Log
	if log == nil {
		log = zap.NewNop()
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = transport.DefaultPollTimeout
	}
	if o.ReconnectPerMinute <= 0 {
		o.ReconnectPerMinute = 6
	}
	c := &Client{
		src:         src,
		log:         log.Named("client"),
		autoConnect: o.AutoConnect,
		poll:        o.PollTimeout,
		limiter:     rate.NewLimiter(rate.Every(time.Minute/time.Duration(o.ReconnectPerMinute)), 1),
		filter:      o.Filter,
		dedup:       o.Dedup,
		sessionID:   uuid.NewString(),
		resets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aprslink",
			Subsystem: "client",
			Name:      "resets_total",
			Help:      "Driver resets performed by the client",
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aprslink",
			Subsystem: "client",
			Name:      "duplicates_total",
			Help:      "Received packets dropped as duplicates",
		}),
	}
	if o.Registerer != nil {
		age := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "aprslink",
			Subsystem: "client",
			Name:      "keepalive_age_seconds",
			Help:      "Seconds since the active driver last saw activity (-1 when unknown)",
		}, c.keepaliveSeconds)
		o.Registerer.MustRegister(c.resets, c.duplicates, age)
	}
	return c
}

func (c *Client) current() transport.Driver {
	if s := c.active.Load(); s != nil {
		return s.d
	}
	return nil
}

// Driver returns the active driver, or nil.
func (c *Client) Driver() transport.Driver { return c.current() }

// SessionID identifies this client instance in logs and stats.
func (c *Client) SessionID() string { return c.sessionID }

func (c *Client) Running() bool { return c.running.Load() }

// Connect is a no-op when already connected. Otherwise it reuses the current
// driver if it is not closed, or obtains a new one, and connects it.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.closed.Load() {
		return ErrNotRunning
	}
	d := c.current()
	if c.running.Load() && d != nil && d.State() == transport.StateConnected {
		return nil
	}
	if d == nil || d.State() == transport.StateClosed {
		nd, err := c.src.GetDriver()
		if err != nil {
			return err
		}
		d = nd
		c.active.Store(&slot{d: d})
	}
	if c.filter != "" {
		d.SetFilter(c.filter)
	}
	if err := d.Connect(ctx); err != nil {
		c.running.Store(false)
		return fmt.Errorf("client: connect %s: %w", d.Kind(), err)
	}
	c.running.Store(d.IsAlive())
	c.log.Info("connected",
		zap.Stringer("transport", d.Kind()),
		zap.String("session", c.sessionID),
		zap.Bool("alive", c.running.Load()),
	)
	return nil
}

// Reset closes the active driver and, with auto-connect, connects a fresh
// one carrying the previous filter. Concurrent resets run one at a time.
func (c *Client) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resetLocked(ctx)
}

func (c *Client) resetLocked(ctx context.Context) error {
	c.resets.Inc()
	c.running.Store(false)
	if old := c.current(); old != nil {
		if err := old.Close(); err != nil {
			c.log.Warn("close on reset", zap.Error(err))
		}
	}
	c.active.Store(nil)
	c.log.Info("reset", zap.Bool("auto_connect", c.autoConnect))
	if !c.autoConnect {
		return nil
	}
	return c.connectLocked(ctx)
}

// Send hands p to the active driver. It fails soft with ErrNotRunning when
// the client is not running.
func (c *Client) Send(ctx context.Context, p *packet.Packet) error {
	d := c.current()
	if !c.running.Load() || d == nil {
		c.log.Debug("send while not running", zap.Stringer("packet", p))
		return ErrNotRunning
	}
	return d.Send(ctx, p)
}

// Consume runs one receive/decode cycle of the active driver. It returns at
// once when the client is not running. Duplicate suppression applies to
// decoded packets only.
func (c *Client) Consume(ctx context.Context, h Handler, raw bool) error {
	sl := c.active.Load()
	if !c.running.Load() || sl == nil {
		return nil
	}
	return c.consume(ctx, sl.d, h, raw)
}

func (c *Client) consume(ctx context.Context, d transport.Driver, h Handler, raw bool) error {
	f, err := d.ReceiveOne(ctx, c.poll)
	if err != nil || f == nil {
		return err
	}
	if raw {
		h(nil, f)
		return nil
	}
	p := d.Decode(f)
	if p == nil {
		return nil
	}
	if c.dedup != nil && c.dedup.SeenPacket(p) {
		c.duplicates.Inc()
		c.log.Debug("duplicate dropped", zap.Stringer("packet", p))
		return nil
	}
	h(p, f)
	return nil
}

// Run is the receive worker. It consumes until ctx ends or the client is
// closed, reconnecting (rate limited) whenever the driver drops. A rejected
// login or a missing driver ends the loop with that error.
func (c *Client) Run(ctx context.Context, h Handler, raw bool) error {
	for {
		if ctx.Err() != nil || c.closed.Load() {
			return nil
		}
		if !c.running.Load() {
			if !c.autoConnect {
				if !sleep(ctx, c.poll) {
					return nil
				}
				continue
			}
			if err := c.limiter.Wait(ctx); err != nil {
				return nil
			}
			if err := c.reconnect(ctx); err != nil {
				if transport.IsAuthFailure(err) || errors.Is(err, transport.ErrNoEnabledDriver) {
					return err
				}
				c.log.Warn("reconnect failed", zap.Error(err))
			}
			continue
		}
		sl := c.active.Load()
		if sl == nil {
			continue
		}
		if err := c.consume(ctx, sl.d, h, raw); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.receiveFailed(sl, err)
		}
	}
}

// reconnect brings the client back up unless another caller (a keepalive
// reset, say) already did while this one waited for the lock.
func (c *Client) reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() || c.running.Load() {
		return nil
	}
	if c.current() == nil {
		return c.connectLocked(ctx)
	}
	return c.resetLocked(ctx)
}

// receiveFailed marks the client down after a receive error, unless a reset
// already replaced the driver that failed.
func (c *Client) receiveFailed(sl *slot, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active.Load() != sl {
		c.log.Debug("receive ended on replaced driver", zap.Error(err))
		return
	}
	c.log.Warn("receive failed", zap.Error(err))
	c.running.Store(false)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// SetFilter remembers the filter for later resets and applies it now.
func (c *Client) SetFilter(filter string) {
	c.mu.Lock()
	c.filter = filter
	c.mu.Unlock()
	if d := c.current(); d != nil {
		d.SetFilter(filter)
	}
}

// IsAlive reports whether the active driver is connected and fresh.
func (c *Client) IsAlive() bool {
	d := c.current()
	return d != nil && d.IsAlive()
}

// KeepaliveCheck resets the client when the driver is not alive. The first
// call only records the baseline.
func (c *Client) KeepaliveCheck(ctx context.Context) error {
	if c.closed.Load() {
		return nil
	}
	if c.baseline.CompareAndSwap(false, true) {
		c.log.Debug("keepalive baseline recorded")
		return nil
	}
	if c.IsAlive() {
		return nil
	}
	c.log.Warn("driver not alive, resetting")
	return c.Reset(ctx)
}

// KeepaliveLog logs how long ago the driver last saw activity.
func (c *Client) KeepaliveLog() {
	kind, connected := transport.KindUnknown, false
	if d := c.current(); d != nil {
		kind, connected = d.Kind(), d.State() == transport.StateConnected
	}
	c.log.Info("keepalive",
		zap.Stringer("transport", kind),
		zap.Bool("connected", connected),
		zap.String("age", c.KeepaliveAge()))
}

func (c *Client) keepaliveSeconds() float64 {
	d := c.current()
	if d == nil || d.Keepalive().IsZero() {
		return -1
	}
	return time.Since(d.Keepalive()).Seconds()
}

// KeepaliveAge renders the time since the last activity, or "not available".
func (c *Client) KeepaliveAge() string {
	d := c.current()
	if d == nil {
		return "not available"
	}
	last := d.Keepalive()
	if last.IsZero() {
		return "not available"
	}
	return time.Since(last).Truncate(time.Second).String()
}

// Stats snapshots the active driver. Without one, a disconnected placeholder
// is returned.
func (c *Client) Stats() transport.Stats {
	d := c.current()
	if d == nil {
		c.mu.Lock()
		f := c.filter
		c.mu.Unlock()
		return transport.Stats{State: transport.StateDisconnected, Filter: f, SessionID: c.sessionID}
	}
	s := d.Stats()
	if s.SessionID == "" {
		s.SessionID = c.sessionID
	}
	return s
}

// Close stops the client for good and closes the driver.
func (c *Client) Close() error {
	c.closed.Store(true)
	c.running.Store(false)
	c.mu.Lock()
	defer c.mu.Unlock()
	d := c.current()
	c.active.Store(nil)
	if d == nil {
		return nil
	}
	return d.Close()
}
