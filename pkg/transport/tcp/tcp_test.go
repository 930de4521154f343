package tcp

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aprslink/pkg/ax25"
	"aprslink/pkg/config"
	"aprslink/pkg/kiss"
	"aprslink/pkg/transport"
)

func TestConfigured(t *testing.T) {
	cfg := config.Default()
	assert.NoError(t, Configured(cfg))

	cfg.KissTCP.Port = 0
	err := Configured(cfg)
	require.ErrorIs(t, err, transport.ErrMissingConfigOption)
	assert.Contains(t, err.Error(), "kiss_tcp.port")

	cfg.KissTCP.Host = ""
	assert.Contains(t, Configured(cfg).Error(), "kiss_tcp.host")
}

func TestReceiveFromTNC(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	raw, err := ax25.Encode(ax25.Frame{Destination: "APRS", Source: "K1ABC-7", Path: []string{"WIDE1-1*"}, Info: []byte(">mobile")})
	require.NoError(t, err)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		_, _ = c.Write(kiss.Encode(raw))
		time.Sleep(time.Second)
	}()

	cfg := config.Default()
	cfg.KissTCP = config.KissTCPConfig{Enabled: true, Host: "127.0.0.1", Port: ln.Addr().(*net.TCPAddr).Port}
	cfg.Connect.Attempts = 1
	d := New(cfg, transport.Deps{})
	defer d.Close()
	require.NoError(t, d.Connect(context.Background()))

	var f *transport.RawFrame
	require.Eventually(t, func() bool {
		f, _ = d.ReceiveOne(context.Background(), 50*time.Millisecond)
		return f != nil
	}, 2*time.Second, time.Millisecond)

	p := d.Decode(f)
	require.NotNil(t, p)
	assert.Equal(t, "K1ABC-7>APRS,WIDE1-1*:>mobile", p.Raw)
	assert.Equal(t, "mobile", p.Comment)
}

func TestVariantSelectedByRegistry(t *testing.T) {
	cfg := config.Default()
	cfg.KissTCP.Enabled = true
	r := transport.NewRegistry(cfg, transport.Deps{})
	require.NoError(t, r.Register(Variant()))
	d, err := r.GetDriver()
	require.NoError(t, err)
	assert.Equal(t, transport.KindTCPKISS, d.Kind())
	assert.Equal(t, transport.StateDisconnected, d.State())
}
