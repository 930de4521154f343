package serial

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"

	"aprslink/pkg/config"
	"aprslink/pkg/kiss"
	"aprslink/pkg/packet"
	"aprslink/pkg/transport"
	"aprslink/pkg/transport/kisslink"
)

func serialConfig() *config.Config {
	cfg := config.Default()
	cfg.KissSerial.Enabled = true
	cfg.KissSerial.Device = "/dev/ttyUSB0"
	cfg.KissSerial.Baudrate = 19200
	cfg.Connect.Attempts = 1
	return cfg
}

func withPort(t *testing.T, open func(string, *serial.Mode) (kisslink.Conn, error)) {
	t.Helper()
	prev := openPort
	openPort = open
	t.Cleanup(func() { openPort = prev })
}

func TestConfigured(t *testing.T) {
	cfg := config.Default()
	err := Configured(cfg)
	require.ErrorIs(t, err, transport.ErrMissingConfigOption)
	assert.Contains(t, err.Error(), "kiss_serial.device")
	assert.NoError(t, Configured(serialConfig()))
}

func TestOpensDeviceWithMode(t *testing.T) {
	local, tnc := net.Pipe()
	defer tnc.Close()
	var gotDev string
	var gotMode serial.Mode
	withPort(t, func(dev string, mode *serial.Mode) (kisslink.Conn, error) {
		gotDev, gotMode = dev, *mode
		return kisslink.NetConn(local), nil
	})

	d := New(serialConfig(), transport.Deps{})
	defer d.Close()
	require.NoError(t, d.Connect(context.Background()))
	assert.Equal(t, "/dev/ttyUSB0", gotDev)
	assert.Equal(t, 19200, gotMode.BaudRate)
	assert.Equal(t, 8, gotMode.DataBits)

	st := d.Stats()
	assert.Equal(t, transport.KindSerialKISS, st.Transport)
	assert.Equal(t, "/dev/ttyUSB0", st.Device)
	assert.Equal(t, 19200, st.Baudrate)

	got := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 256)
		n, _ := tnc.Read(buf)
		got <- buf[:n]
	}()
	require.NoError(t, d.Send(context.Background(), packet.NewAck("N0CALL", "K1ABC", "42")))
	select {
	case wire := <-got:
		assert.Equal(t, kiss.FEND, wire[0])
		assert.Equal(t, kiss.CmdDataFrame, wire[1])
	case <-time.After(2 * time.Second):
		t.Fatal("nothing written to the port")
	}
}

func TestOpenFailure(t *testing.T) {
	withPort(t, func(string, *serial.Mode) (kisslink.Conn, error) {
		return nil, errors.New("permission denied")
	})
	d := New(serialConfig(), transport.Deps{})
	err := d.Connect(context.Background())
	assert.ErrorIs(t, err, transport.ErrTransientConnect)
	assert.Equal(t, transport.StateDisconnected, d.State())
}
