// Package fake is an in-process transport with no I/O. It connects
// instantly, emits one sample packet and then idles, which makes it the
// fallback transport and the workhorse of integration tests.
package fake

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"aprslink/pkg/config"
	"aprslink/pkg/packet"
	"aprslink/pkg/transport"
)

// SampleLine is the packet every fresh connection yields first.
const SampleLine = "N0CALL-1>APZ100,WIDE1-1:>aprslink simulator online"

// Variant registers the driver; it is selected only when explicitly enabled.
func Variant() transport.Variant {
	return transport.Variant{
		Name:       "fake",
		Kind:       transport.KindFake,
		Enabled:    func(cfg *config.Config) bool { return cfg.Fake.Enabled },
		Configured: func(*config.Config) error { return nil },
		New: func(cfg *config.Config, deps transport.Deps) (transport.Driver, error) {
			return New(cfg.Keepalive.StaleAfter(), deps), nil
		},
	}
}

// Driver simulates a transport. Lines passed to Inject are received as if
// they came off the air; sent packets are recorded.
type Driver struct {
	status  *transport.Status
	log     *zap.Logger
	metrics *transport.Metrics

	inbox   chan string
	done    chan struct{}
	once    sync.Once
	sampled atomic.Bool

	mu       sync.Mutex
	sent     []*packet.Packet
	counters transport.Counters
}

var _ transport.Driver = (*Driver)(nil)

// New returns a disconnected simulator.
func New(staleAfter time.Duration, deps transport.Deps) *Driver {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Driver{
		status:  transport.NewStatus(staleAfter),
		log:     log.With(zap.String("transport", "fake")),
		metrics: deps.Metrics,
		inbox:   make(chan string, 64),
		done:    make(chan struct{}),
	}
}

func (d *Driver) Kind() transport.Kind               { return transport.KindFake }
func (d *Driver) State() transport.State             { return d.status.State() }
func (d *Driver) IsAlive() bool                      { return d.status.Alive() }
func (d *Driver) LoginStatus() transport.LoginStatus { return d.status.Login() }
func (d *Driver) Keepalive() time.Time               { return d.status.Keepalive() }
func (d *Driver) SetFilter(filter string)            { d.status.SetFilter(filter) }

// Connect always succeeds unless the driver was closed.
func (d *Driver) Connect(context.Context) error {
	if !d.status.Transition(transport.StateConnected) {
		return fmt.Errorf("%w: driver closed", transport.ErrNotConnected)
	}
	d.status.Touch()
	d.status.SetLogin(transport.LoginStatus{Success: true, Message: "simulator"})
	d.metrics.SetConnected(transport.KindFake, true)
	return nil
}

// Inject queues a TNC2 line for ReceiveOne. It fails once the inbox is full
// or the driver is closed.
func (d *Driver) Inject(line string) error {
	select {
	case <-d.done:
		return transport.ErrNotConnected
	default:
	}
	select {
	case d.inbox <- line:
		return nil
	default:
		return errors.New("fake: inbox full")
	}
}

// Sent returns the packets sent so far, oldest first.
func (d *Driver) Sent() []*packet.Packet {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*packet.Packet(nil), d.sent...)
}

func (d *Driver) Send(_ context.Context, p *packet.Packet) error {
	if d.State() != transport.StateConnected {
		return transport.ErrNotConnected
	}
	if err := p.Prepare(); err != nil {
		return err
	}
	d.mu.Lock()
	d.sent = append(d.sent, p)
	d.counters.PacketsSent++
	d.counters.LastPacketSent = time.Now()
	d.mu.Unlock()
	d.metrics.Sent(transport.KindFake)
	d.log.Debug("sent", zap.String("packet", p.TNC2()))
	return nil
}

// ReceiveOne yields the sample packet once, then injected lines, otherwise
// waits out the timeout. Every poll counts as activity.
func (d *Driver) ReceiveOne(ctx context.Context, timeout time.Duration) (*transport.RawFrame, error) {
	if d.State() != transport.StateConnected {
		return nil, transport.ErrNotConnected
	}
	d.status.Touch()
	if d.sampled.CompareAndSwap(false, true) {
		return d.frame(SampleLine), nil
	}
	if timeout <= 0 {
		timeout = transport.DefaultPollTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case line := <-d.inbox:
		return d.frame(line), nil
	case <-timer.C:
		return nil, nil
	case <-d.done:
		return nil, transport.ErrNotConnected
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *Driver) frame(line string) *transport.RawFrame {
	now := time.Now()
	d.mu.Lock()
	d.counters.PacketsReceived++
	d.counters.LastPacketReceived = now
	d.mu.Unlock()
	d.metrics.Received(transport.KindFake)
	return &transport.RawFrame{Kind: transport.KindFake, Data: []byte(line), ReceivedAt: now}
}

func (d *Driver) Decode(f *transport.RawFrame) *packet.Packet {
	if f == nil {
		return nil
	}
	p, err := packet.FromLine(string(f.Data))
	if err != nil {
		d.metrics.DecodeError(transport.KindFake)
		d.log.Warn("discarding undecodable line", zap.ByteString("line", f.Data), zap.Error(err))
		return nil
	}
	p.ReceivedAt = f.ReceivedAt
	return p
}

// Close stops the simulator; a blocked ReceiveOne returns at once.
func (d *Driver) Close() error {
	if d.status.MarkClosed() {
		d.once.Do(func() { close(d.done) })
		d.metrics.SetConnected(transport.KindFake, false)
	}
	return nil
}

// Expire forgets the last activity, so IsAlive is false until the next
// poll.
func (d *Driver) Expire() {
	d.status.ResetKeepalive()
}

func (d *Driver) Stats() transport.Stats {
	s := d.status.Snapshot(transport.KindFake)
	d.mu.Lock()
	c := d.counters
	d.mu.Unlock()
	s.Counters = &c
	return s
}
