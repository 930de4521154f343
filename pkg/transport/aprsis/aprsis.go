// Package aprsis is the APRS-IS aggregator driver: a line protocol over a
// persistent TCP socket with a login handshake.
package aprsis

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"aprslink/pkg/config"
	"aprslink/pkg/packet"
	"aprslink/pkg/transport"
)

// Variant registers the driver with a transport.Registry.
func Variant() transport.Variant {
	return transport.Variant{
		Name:       "aprsis",
		Kind:       transport.KindAPRSIS,
		Enabled:    func(cfg *config.Config) bool { return cfg.AprsNetwork.Enabled },
		Configured: Configured,
		New: func(cfg *config.Config, deps transport.Deps) (transport.Driver, error) {
			return New(cfg, deps), nil
		},
	}
}

// Configured requires login, password, host and port.
func Configured(cfg *config.Config) error {
	n := cfg.AprsNetwork
	switch {
	case strings.TrimSpace(n.Login) == "":
		return transport.MissingOption("aprs_network.login")
	case n.Password == "":
		return transport.MissingOption("aprs_network.password")
	case strings.TrimSpace(n.Host) == "":
		return transport.MissingOption("aprs_network.host")
	case n.Port <= 0:
		return transport.MissingOption("aprs_network.port")
	}
	return nil
}

// Driver talks to an APRS-IS server.
type Driver struct {
	net          config.AprsNetworkConfig
	app, version string
	dialTimeout  time.Duration
	loginTimeout time.Duration
	policy       transport.RetryPolicy

	log       *zap.Logger
	metrics   *transport.Metrics
	status    *transport.Status
	sessionID string

	mu     sync.Mutex // guards conn, rd, server
	conn   net.Conn
	rd     *bufio.Reader
	server string

	wmu sync.Mutex // serializes writes

	// partial holds a line cut short by a poll timeout; only the receive
	// worker touches it.
	partial []byte
}

var _ transport.Driver = (*Driver)(nil)

// New builds a disconnected driver.
func New(cfg *config.Config, deps transport.Deps) *Driver {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	d := &Driver{
		net:          cfg.AprsNetwork,
		app:          cfg.AppName,
		version:      cfg.Version,
		dialTimeout:  cfg.Connect.DialTimeout(),
		loginTimeout: cfg.Connect.LoginTimeout(),
		policy:       transport.PolicyFromConfig(cfg.Connect),
		log:          log.With(zap.String("transport", "aprsis")),
		metrics:      deps.Metrics,
		status:       transport.NewStatus(cfg.Keepalive.StaleAfter()),
		sessionID:    uuid.NewString(),
	}
	if d.loginTimeout <= 0 {
		d.loginTimeout = 5 * time.Second
	}
	d.status.SetFilter(cfg.AprsNetwork.Filter)
	return d
}

func (d *Driver) Kind() transport.Kind               { return transport.KindAPRSIS }
func (d *Driver) State() transport.State             { return d.status.State() }
func (d *Driver) IsAlive() bool                      { return d.status.Alive() }
func (d *Driver) LoginStatus() transport.LoginStatus { return d.status.Login() }
func (d *Driver) Keepalive() time.Time               { return d.status.Keepalive() }

func (d *Driver) addr() string { return net.JoinHostPort(d.net.Host, strconv.Itoa(d.net.Port)) }

// Connect dials the server and logs in. A rejected login is returned as
// *transport.AuthError and leaves the driver Disconnected.
func (d *Driver) Connect(ctx context.Context) error {
	switch d.State() {
	case transport.StateClosed:
		return fmt.Errorf("%w: driver closed", transport.ErrNotConnected)
	case transport.StateConnected:
		return nil
	}
	d.status.Transition(transport.StateConnecting)
	err := transport.Retry(ctx, transport.KindAPRSIS, d.policy, d.log, d.dialAndLogin)
	if err != nil {
		d.status.Transition(transport.StateDisconnected)
		if transport.IsAuthFailure(err) {
			d.metrics.AuthFailure(transport.KindAPRSIS)
			d.log.Error("login rejected", zap.String("login", d.net.Login), zap.Error(err))
		}
		return err
	}
	return nil
}

func (d *Driver) dialAndLogin(ctx context.Context) error {
	d.metrics.ConnectAttempt(transport.KindAPRSIS)
	dialer := net.Dialer{Timeout: d.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", d.addr())
	if err != nil {
		return err
	}
	line := loginLine(d.net.Login, d.net.Password, d.app, d.version, d.status.Filter())
	if err := transport.WriteFull(conn, []byte(line)); err != nil {
		_ = conn.Close()
		return fmt.Errorf("send login: %w", err)
	}

	rd := bufio.NewReader(conn)
	resp, server, err := d.awaitLogresp(conn, rd)
	if err != nil {
		_ = conn.Close()
		return err
	}
	r, ok := parseLogresp(resp)
	var reason string
	if !ok {
		reason = "malformed login response"
	} else {
		reason = r.check(d.net.Login, d.net.Password)
	}
	if reason != "" {
		_ = conn.Close()
		d.status.SetLogin(transport.LoginStatus{Success: false, Message: reason})
		return &transport.AuthError{Login: d.net.Login, Message: reason}
	}
	_ = conn.SetReadDeadline(time.Time{})

	d.mu.Lock()
	prev := d.conn
	d.conn, d.rd, d.server = conn, rd, server
	d.mu.Unlock()
	if prev != nil {
		// reconnect of a stale instance
		_ = prev.Close()
	}
	d.partial = d.partial[:0]

	d.status.SetLogin(transport.LoginStatus{Success: true, Message: r.Server})
	d.status.ResetKeepalive()
	d.status.Touch()
	if !d.status.Transition(transport.StateConnected) {
		// closed while logging in
		_ = conn.Close()
		return fmt.Errorf("%w: driver closed", transport.ErrNotConnected)
	}
	d.metrics.SetConnected(transport.KindAPRSIS, true)
	d.log.Info("logged in",
		zap.String("addr", d.addr()),
		zap.String("login", d.net.Login),
		zap.String("server", r.Server),
		zap.Bool("verified", r.Verified),
	)
	return nil
}

// awaitLogresp reads lines until the logresp arrives or the login deadline
// passes. Banner comments are remembered as the server string.
func (d *Driver) awaitLogresp(conn net.Conn, rd *bufio.Reader) (resp, server string, err error) {
	if err := conn.SetReadDeadline(time.Now().Add(d.loginTimeout)); err != nil {
		return "", "", err
	}
	for {
		line, err := rd.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		if err != nil {
			if transport.IsTimeout(err) {
				return "", server, fmt.Errorf("login response timeout: %w", err)
			}
			if errors.Is(err, io.EOF) && line == "" {
				reason := "empty response"
				d.status.SetLogin(transport.LoginStatus{Success: false, Message: reason})
				return "", server, &transport.AuthError{Login: d.net.Login, Message: reason}
			}
			if line == "" {
				return "", server, err
			}
		}
		switch {
		case isLogresp(line):
			return line, server, nil
		case strings.HasPrefix(line, "#"):
			if server == "" {
				server = strings.TrimSpace(strings.TrimPrefix(line, "#"))
			}
		}
		if err != nil {
			return "", server, err
		}
	}
}

func (d *Driver) handle() (net.Conn, *bufio.Reader) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn, d.rd
}

// Send writes the packet as one TNC2 line.
func (d *Driver) Send(ctx context.Context, p *packet.Packet) error {
	if d.State() != transport.StateConnected {
		return transport.ErrNotConnected
	}
	if err := p.Prepare(); err != nil {
		return err
	}
	return d.writeLine(ctx, p.TNC2()+"\r\n", true)
}

func (d *Driver) writeLine(ctx context.Context, line string, counted bool) error {
	conn, _ := d.handle()
	if conn == nil {
		return transport.ErrNotConnected
	}
	d.wmu.Lock()
	defer d.wmu.Unlock()
	deadline, _ := ctx.Deadline()
	_ = conn.SetWriteDeadline(deadline)
	if err := transport.WriteFull(conn, []byte(line)); err != nil {
		d.drop(err)
		return fmt.Errorf("%w: %w", transport.ErrNotConnected, err)
	}
	if counted {
		d.metrics.Sent(transport.KindAPRSIS)
	}
	return nil
}

// ReceiveOne reads one line. Server comments refresh the keepalive and yield
// nothing.
func (d *Driver) ReceiveOne(ctx context.Context, timeout time.Duration) (*transport.RawFrame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conn, rd := d.handle()
	if conn == nil || d.State() == transport.StateClosed {
		return nil, transport.ErrNotConnected
	}
	if timeout <= 0 {
		timeout = transport.DefaultPollTimeout
	}
	deadline := time.Now().Add(timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetReadDeadline(deadline)

	chunk, err := rd.ReadBytes('\n')
	d.partial = append(d.partial, chunk...)
	if err != nil {
		if transport.IsTimeout(err) {
			return nil, nil
		}
		d.drop(err)
		return nil, fmt.Errorf("%w: %w", transport.ErrNotConnected, err)
	}
	line := strings.TrimRight(string(d.partial), "\r\n")
	d.partial = d.partial[:0]
	d.status.Touch()

	if line == "" {
		return nil, nil
	}
	if line[0] == '#' {
		d.log.Debug("server comment", zap.String("line", line))
		return nil, nil
	}
	d.metrics.Received(transport.KindAPRSIS)
	return &transport.RawFrame{Kind: transport.KindAPRSIS, Data: []byte(line), ReceivedAt: time.Now()}, nil
}

// Decode parses a line through the packet factory.
func (d *Driver) Decode(f *transport.RawFrame) *packet.Packet {
	if f == nil {
		return nil
	}
	p, err := packet.FromLine(string(f.Data))
	if err != nil {
		d.metrics.DecodeError(transport.KindAPRSIS)
		d.log.Warn("discarding undecodable line", zap.ByteString("line", f.Data), zap.Error(err))
		return nil
	}
	p.ReceivedAt = f.ReceivedAt
	return p
}

// SetFilter stores the server-side filter and pushes it when connected.
func (d *Driver) SetFilter(filter string) {
	d.status.SetFilter(filter)
	if filter == "" || d.State() != transport.StateConnected {
		return
	}
	if err := d.writeLine(context.Background(), filterLine(filter), false); err != nil {
		d.log.Warn("set filter failed", zap.String("filter", filter), zap.Error(err))
		return
	}
	d.log.Info("filter set", zap.String("filter", filter))
}

// drop marks the connection lost after an I/O error.
func (d *Driver) drop(err error) {
	if d.status.State() == transport.StateClosed {
		return
	}
	d.mu.Lock()
	conn := d.conn
	d.conn, d.rd = nil, nil
	d.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	if d.status.Transition(transport.StateDisconnected) {
		d.metrics.SetConnected(transport.KindAPRSIS, false)
		d.log.Warn("connection lost", zap.String("addr", d.addr()), zap.Error(err))
	}
}

// Close shuts the socket. Only the first call does anything.
func (d *Driver) Close() error {
	if !d.status.MarkClosed() {
		return nil
	}
	d.mu.Lock()
	conn := d.conn
	d.conn, d.rd = nil, nil
	d.mu.Unlock()
	d.metrics.SetConnected(transport.KindAPRSIS, false)
	if conn == nil {
		return nil
	}
	d.log.Info("closed", zap.String("addr", d.addr()))
	return conn.Close()
}

func (d *Driver) Stats() transport.Stats {
	s := d.status.Snapshot(transport.KindAPRSIS)
	d.mu.Lock()
	s.ServerString = d.server
	d.mu.Unlock()
	s.SessionID = d.sessionID
	s.Host = d.net.Host
	s.Port = d.net.Port
	return s
}
