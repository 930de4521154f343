// Package kisslink is the driver shared by the KISS TNC transports. It
// carries AX.25 UI frames inside KISS data frames over any byte stream; the
// tcp and serial packages only supply the stream.
package kisslink

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"aprslink/pkg/ax25"
	"aprslink/pkg/kiss"
	"aprslink/pkg/packet"
	"aprslink/pkg/transport"
)

// Conn is the byte stream to a TNC. Read must return (0, nil) once the read
// timeout passes without data.
type Conn interface {
	io.ReadWriteCloser
	SetReadTimeout(d time.Duration) error
}

// Opener opens a fresh stream for each connect attempt.
type Opener func(ctx context.Context) (Conn, error)

// Endpoint describes where the TNC is, for stats and logs.
type Endpoint struct {
	Host     string
	Port     int
	Device   string
	Baudrate int
}

func (e Endpoint) String() string {
	if e.Device != "" {
		return fmt.Sprintf("%s@%d", e.Device, e.Baudrate)
	}
	return net.JoinHostPort(e.Host, fmt.Sprint(e.Port))
}

// Options configure a Driver.
type Options struct {
	Kind       transport.Kind
	Open       Opener
	Endpoint   Endpoint
	Path       []string // default digipeater path for packets without one
	Policy     transport.RetryPolicy
	StaleAfter time.Duration
	Log        *zap.Logger
	Metrics    *transport.Metrics
}

// Driver implements transport.Driver over a KISS TNC.
type Driver struct {
	kind     transport.Kind
	open     Opener
	endpoint Endpoint
	path     []string
	policy   transport.RetryPolicy
	log      *zap.Logger
	metrics  *transport.Metrics
	status   *transport.Status

	mu   sync.Mutex // guards conn
	conn Conn

	wmu sync.Mutex // serializes frame writes

	cmu      sync.Mutex
	counters transport.Counters

	// receive worker only
	df  *kiss.Deframer
	buf []byte
}

var _ transport.Driver = (*Driver)(nil)

// New builds a disconnected driver.
func New(o Options) *Driver {
	log := o.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Driver{
		kind:     o.Kind,
		open:     o.Open,
		endpoint: o.Endpoint,
		path:     o.Path,
		policy:   o.Policy,
		log:      log.With(zap.Stringer("transport", o.Kind)),
		metrics:  o.Metrics,
		status:   transport.NewStatus(o.StaleAfter),
		df:       kiss.NewDeframer(0),
		buf:      make([]byte, 1024),
	}
}

func (d *Driver) Kind() transport.Kind               { return d.kind }
func (d *Driver) State() transport.State             { return d.status.State() }
func (d *Driver) IsAlive() bool                      { return d.status.Alive() }
func (d *Driver) LoginStatus() transport.LoginStatus { return d.status.Login() }
func (d *Driver) Keepalive() time.Time               { return d.status.Keepalive() }

// SetFilter only records the filter; TNCs hear everything on frequency.
func (d *Driver) SetFilter(filter string) { d.status.SetFilter(filter) }

// Connect opens the stream. There is no login: Connected is reached as soon
// as the handle opens.
func (d *Driver) Connect(ctx context.Context) error {
	switch d.State() {
	case transport.StateClosed:
		return fmt.Errorf("%w: driver closed", transport.ErrNotConnected)
	case transport.StateConnected:
		return nil
	}
	d.status.Transition(transport.StateConnecting)
	err := transport.Retry(ctx, d.kind, d.policy, d.log, func(ctx context.Context) error {
		d.metrics.ConnectAttempt(d.kind)
		conn, err := d.open(ctx)
		if err != nil {
			return err
		}
		d.mu.Lock()
		prev := d.conn
		d.conn = conn
		d.mu.Unlock()
		if prev != nil {
			// reconnect of a stale instance
			_ = prev.Close()
		}
		return nil
	})
	if err != nil {
		d.status.Transition(transport.StateDisconnected)
		d.status.SetLogin(transport.LoginStatus{Success: false, Message: err.Error()})
		return err
	}
	d.df = kiss.NewDeframer(0)
	d.status.ResetKeepalive()
	d.status.Touch()
	if !d.status.Transition(transport.StateConnected) {
		d.dropConn()
		return fmt.Errorf("%w: driver closed", transport.ErrNotConnected)
	}
	d.status.SetLogin(transport.LoginStatus{Success: true, Message: "connected to " + d.endpoint.String()})
	d.metrics.SetConnected(d.kind, true)
	d.log.Info("tnc connected", zap.Stringer("endpoint", d.endpoint))
	return nil
}

func (d *Driver) handle() Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn
}

// Send packs the packet into an AX.25 UI frame inside a KISS data frame and
// writes it in full.
func (d *Driver) Send(_ context.Context, p *packet.Packet) error {
	if d.State() != transport.StateConnected {
		return transport.ErrNotConnected
	}
	conn := d.handle()
	if conn == nil {
		return transport.ErrNotConnected
	}
	if err := p.Prepare(); err != nil {
		return err
	}
	path := p.Path
	if len(path) == 0 {
		path = d.path
	}
	raw, err := ax25.Encode(ax25.Frame{
		Destination: p.ToCall,
		Source:      p.FromCall,
		Path:        path,
		Info:        p.Payload(),
	})
	if err != nil {
		return err
	}
	frame := kiss.Encode(raw)

	d.wmu.Lock()
	err = transport.WriteFull(conn, frame)
	d.wmu.Unlock()
	if err != nil {
		d.drop(err)
		return fmt.Errorf("%w: %w", transport.ErrNotConnected, err)
	}

	d.cmu.Lock()
	d.counters.PacketsSent++
	d.counters.LastPacketSent = time.Now()
	d.cmu.Unlock()
	d.metrics.Sent(d.kind)
	return nil
}

// ReceiveOne returns the next KISS data frame, reading from the TNC for at
// most timeout when none is buffered. Malformed frames are logged and
// skipped; frames for other KISS commands are ignored.
func (d *Driver) ReceiveOne(ctx context.Context, timeout time.Duration) (*transport.RawFrame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f := d.nextData(); f != nil {
		return f, nil
	}
	conn := d.handle()
	if conn == nil || d.State() == transport.StateClosed {
		return nil, transport.ErrNotConnected
	}
	if timeout <= 0 {
		timeout = transport.DefaultPollTimeout
	}
	if err := conn.SetReadTimeout(timeout); err != nil {
		d.drop(err)
		return nil, fmt.Errorf("%w: %w", transport.ErrNotConnected, err)
	}
	n, err := conn.Read(d.buf)
	if n > 0 {
		_, _ = d.df.Write(d.buf[:n])
		d.status.Touch()
	}
	if err != nil {
		d.drop(err)
		return nil, fmt.Errorf("%w: %w", transport.ErrNotConnected, err)
	}
	return d.nextData(), nil
}

func (d *Driver) nextData() *transport.RawFrame {
	for {
		raw, ok := d.df.Next()
		if !ok {
			return nil
		}
		fr, err := kiss.DecodeFrame(raw)
		if err != nil {
			d.metrics.FrameError(d.kind)
			d.log.Warn("discarding malformed kiss frame", zap.Binary("frame", raw), zap.Error(err))
			continue
		}
		if !fr.IsData() {
			d.log.Debug("ignoring kiss command", zap.Uint8("port", fr.Port), zap.Uint8("command", fr.Command))
			continue
		}
		now := time.Now()
		d.cmu.Lock()
		d.counters.PacketsReceived++
		d.counters.LastPacketReceived = now
		d.cmu.Unlock()
		d.metrics.Received(d.kind)
		return &transport.RawFrame{Kind: d.kind, Data: fr.Payload, ReceivedAt: now}
	}
}

// Decode unpacks the AX.25 frame and hands its TNC2 rendering to the packet
// factory.
func (d *Driver) Decode(f *transport.RawFrame) *packet.Packet {
	if f == nil {
		return nil
	}
	fr, err := ax25.Decode(f.Data)
	if err != nil {
		d.metrics.DecodeError(d.kind)
		d.log.Warn("discarding undecodable ax25 frame", zap.Binary("frame", f.Data), zap.Error(err))
		return nil
	}
	p, err := packet.FromLine(fr.TNC2())
	if err != nil {
		d.metrics.DecodeError(d.kind)
		d.log.Warn("discarding undecodable packet", zap.String("line", fr.TNC2()), zap.Error(err))
		return nil
	}
	p.ReceivedAt = f.ReceivedAt
	return p
}

func (d *Driver) dropConn() Conn {
	d.mu.Lock()
	conn := d.conn
	d.conn = nil
	d.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	return conn
}

// drop marks the driver Disconnected after an I/O error; the facade's
// reconnect policy takes it from there.
func (d *Driver) drop(err error) {
	if d.State() == transport.StateClosed {
		return
	}
	d.dropConn()
	if d.status.Transition(transport.StateDisconnected) {
		d.metrics.SetConnected(d.kind, false)
		d.log.Warn("tnc connection lost", zap.Stringer("endpoint", d.endpoint), zap.Error(err))
	}
}

// Close releases the stream. Only the first call does anything.
func (d *Driver) Close() error {
	if !d.status.MarkClosed() {
		return nil
	}
	d.metrics.SetConnected(d.kind, false)
	if d.dropConn() != nil {
		d.log.Info("tnc closed", zap.Stringer("endpoint", d.endpoint))
	}
	return nil
}

func (d *Driver) Stats() transport.Stats {
	s := d.status.Snapshot(d.kind)
	s.Host = d.endpoint.Host
	s.Port = d.endpoint.Port
	s.Device = d.endpoint.Device
	s.Baudrate = d.endpoint.Baudrate
	s.Path = append([]string(nil), d.path...)
	d.cmu.Lock()
	c := d.counters
	d.cmu.Unlock()
	s.Counters = &c
	return s
}
