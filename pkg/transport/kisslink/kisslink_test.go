package kisslink

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aprslink/pkg/ax25"
	"aprslink/pkg/kiss"
	"aprslink/pkg/packet"
	"aprslink/pkg/transport"
)

func quickPolicy() transport.RetryPolicy {
	return transport.RetryPolicy{Attempts: 2, Backoff: transport.NewBackoff(time.Millisecond, 2*time.Millisecond, time.Millisecond)}
}

// pipeDriver returns a connected driver and the TNC end of its stream.
func pipeDriver(t *testing.T, m *transport.Metrics) (*Driver, net.Conn) {
	t.Helper()
	local, tnc := net.Pipe()
	t.Cleanup(func() { _ = tnc.Close() })
	d := New(Options{
		Kind:     transport.KindTCPKISS,
		Open:     func(context.Context) (Conn, error) { return NetConn(local), nil },
		Endpoint: Endpoint{Host: "tnc", Port: 8001},
		Path:     []string{"WIDE1-1"},
		Policy:   quickPolicy(),
		Metrics:  m,
	})
	t.Cleanup(func() { _ = d.Close() })
	require.NoError(t, d.Connect(context.Background()))
	return d, tnc
}

func frameFor(t *testing.T, line string) []byte {
	t.Helper()
	p, err := packet.FromLine(line)
	require.NoError(t, err)
	raw, err := ax25.Encode(ax25.Frame{Destination: p.ToCall, Source: p.FromCall, Path: p.Path, Info: p.Payload()})
	require.NoError(t, err)
	return kiss.Encode(raw)
}

func TestConnectReachesConnected(t *testing.T) {
	d, _ := pipeDriver(t, nil)
	assert.Equal(t, transport.StateConnected, d.State())
	assert.True(t, d.IsAlive())
	assert.True(t, d.LoginStatus().Success)
}

func TestConnectFailureIsTransient(t *testing.T) {
	calls := 0
	d := New(Options{
		Kind: transport.KindSerialKISS,
		Open: func(context.Context) (Conn, error) {
			calls++
			return nil, errors.New("no such device")
		},
		Policy: quickPolicy(),
	})
	err := d.Connect(context.Background())
	require.ErrorIs(t, err, transport.ErrTransientConnect)
	assert.Equal(t, 2, calls)
	assert.Equal(t, transport.StateDisconnected, d.State())
	assert.False(t, d.LoginStatus().Success)
}

func TestSendWritesKissFrame(t *testing.T) {
	d, tnc := pipeDriver(t, nil)

	got := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 512)
		n, _ := tnc.Read(buf)
		got <- buf[:n]
	}()
	require.NoError(t, d.Send(context.Background(), packet.NewStatus("N0CALL", "hello")))

	var wire []byte
	select {
	case wire = <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("no frame written")
	}
	payload, err := kiss.Decode(wire)
	require.NoError(t, err)
	fr, err := ax25.Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, "N0CALL>APZ100,WIDE1-1:>hello", fr.TNC2())

	c := d.Stats().Counters
	assert.Equal(t, uint64(1), c.PacketsSent)
	assert.False(t, c.LastPacketSent.IsZero())
}

func TestReceiveSkipsJunk(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := transport.NewMetrics(reg)
	d, tnc := pipeDriver(t, m)

	// line noise, a TXDELAY command, a bad escape, then a real frame
	wire := []byte{'x', 'y'}
	wire = append(wire, kiss.FEND, 0x01, 0x32, kiss.FEND)
	wire = append(wire, kiss.FEND, 0x00, kiss.FESC, 0x01, kiss.FEND)
	wire = append(wire, frameFor(t, "K1ABC>APRS,WIDE2-1:!4500.00N/09300.00W-")...)
	go func() { _, _ = tnc.Write(wire) }()

	var f *transport.RawFrame
	require.Eventually(t, func() bool {
		var err error
		f, err = d.ReceiveOne(context.Background(), 50*time.Millisecond)
		assert.NoError(t, err)
		return f != nil
	}, 2*time.Second, time.Millisecond)

	p := d.Decode(f)
	require.NotNil(t, p)
	assert.Equal(t, packet.TypePosition, p.Type)
	assert.Equal(t, "K1ABC", p.FromCall)
	assert.Equal(t, []string{"WIDE2-1"}, p.Path)

	assert.Equal(t, uint64(1), d.Stats().Counters.PacketsReceived)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FrameErrors.WithLabelValues("tcpkiss")))
}

func TestReceiveTimeout(t *testing.T) {
	d, _ := pipeDriver(t, nil)
	f, err := d.ReceiveOne(context.Background(), 10*time.Millisecond)
	assert.NoError(t, err)
	assert.Nil(t, f)
}

func TestReadErrorDisconnects(t *testing.T) {
	d, tnc := pipeDriver(t, nil)
	require.NoError(t, tnc.Close())
	_, err := d.ReceiveOne(context.Background(), time.Second)
	assert.ErrorIs(t, err, transport.ErrNotConnected)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, transport.StateDisconnected, d.State())

	err = d.Send(context.Background(), packet.NewStatus("N0CALL", "x"))
	assert.ErrorIs(t, err, transport.ErrNotConnected)
}

func TestDecodeGarbage(t *testing.T) {
	d, _ := pipeDriver(t, nil)
	assert.Nil(t, d.Decode(&transport.RawFrame{Data: []byte{1, 2, 3}}))
	assert.Nil(t, d.Decode(nil))
}

func TestCloseTwice(t *testing.T) {
	d, _ := pipeDriver(t, nil)
	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
	assert.Equal(t, transport.StateClosed, d.State())
	_, err := d.ReceiveOne(context.Background(), time.Millisecond)
	assert.ErrorIs(t, err, transport.ErrNotConnected)
}

func TestStatsShape(t *testing.T) {
	d, _ := pipeDriver(t, nil)
	m := d.Stats().Map(true)
	assert.Equal(t, "tcpkiss", m["transport"])
	assert.Equal(t, "tnc", m["host"])
	assert.Equal(t, 8001, m["port"])
	assert.Equal(t, []any{"WIDE1-1"}, m["path"])
	assert.Equal(t, uint64(0), m["packets_sent"])
}

type closeTracker struct {
	Conn
	closed chan struct{}
}

func (c *closeTracker) Close() error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	return c.Conn.Close()
}

func TestReconnectFromStaleClosesOldStream(t *testing.T) {
	var opened []*closeTracker
	d := New(Options{
		Kind: transport.KindTCPKISS,
		Open: func(context.Context) (Conn, error) {
			local, tnc := net.Pipe()
			t.Cleanup(func() { _ = tnc.Close() })
			c := &closeTracker{Conn: NetConn(local), closed: make(chan struct{})}
			opened = append(opened, c)
			return c, nil
		},
		Policy:     quickPolicy(),
		StaleAfter: time.Millisecond,
	})
	t.Cleanup(func() { _ = d.Close() })

	require.NoError(t, d.Connect(context.Background()))
	time.Sleep(5 * time.Millisecond)
	require.False(t, d.IsAlive())
	require.Equal(t, transport.StateStale, d.State())

	require.NoError(t, d.Connect(context.Background()))
	require.Len(t, opened, 2)
	assert.Equal(t, transport.StateConnected, d.State())
	select {
	case <-opened[0].closed:
	default:
		t.Fatal("stale stream left open")
	}
	select {
	case <-opened[1].closed:
		t.Fatal("fresh stream closed")
	default:
	}
}
