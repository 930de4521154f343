package netstack

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aprslink/pkg/config"
	"aprslink/pkg/packet"
	"aprslink/pkg/transport"
	"aprslink/pkg/transport/fake"
)

func TestVariantByKind(t *testing.T) {
	for kind, want := range map[string]transport.Kind{
		"aprsis":     transport.KindAPRSIS,
		"kiss_tcp":   transport.KindTCPKISS,
		"serialkiss": transport.KindSerialKISS,
		"fake":       transport.KindFake,
	} {
		v, err := VariantByKind(kind)
		require.NoError(t, err, kind)
		assert.Equal(t, want, v.Kind, kind)
	}

	_, err := VariantByKind("quic")
	var unknown ErrUnknownKind
	require.True(t, errors.As(err, &unknown))
	assert.EqualError(t, err, "unknown transport kind: quic")
}

func TestNewRegistryOrder(t *testing.T) {
	r, err := NewRegistry(config.Default(), transport.Deps{})
	require.NoError(t, err)
	assert.Equal(t, []string{"aprsis", "tcpkiss", "serialkiss", "fake"}, r.Names())

	r, err = NewRegistry(config.Default(), transport.Deps{}, "fake", "aprsis")
	require.NoError(t, err)
	assert.Equal(t, []string{"fake", "aprsis"}, r.Names())

	_, err = NewRegistry(config.Default(), transport.Deps{}, "fake", "fake")
	assert.Error(t, err)
}

func TestStackRunsFakeTransport(t *testing.T) {
	cfg := config.Default()
	cfg.Fake.Enabled = true
	cfg.Client.PollTimeoutMS = 20

	reg := prometheus.NewRegistry()
	s, err := New(cfg, nil, reg)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Supervisor.Len())

	var mu sync.Mutex
	var got []string
	errc, err := s.Start(context.Background(), func(p *packet.Packet, _ *transport.RawFrame) {
		mu.Lock()
		got = append(got, p.Raw)
		mu.Unlock()
	}, false)
	require.NoError(t, err)

	d, ok := s.Client.Driver().(*fake.Driver)
	require.True(t, ok)
	require.NoError(t, d.Inject("K1ABC>APRS:>hello"))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 2*time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{fake.SampleLine, "K1ABC>APRS:>hello"}, got)
	mu.Unlock()

	assert.Equal(t, 2.0, testutil.ToFloat64(s.Transport.PacketsReceived.WithLabelValues("fake")))

	require.NoError(t, s.Close())
	_, open := <-errc
	assert.False(t, open)
	assert.Equal(t, transport.StateClosed, d.State())
}

func TestStackRawDeliversEveryFrame(t *testing.T) {
	cfg := config.Default()
	cfg.Fake.Enabled = true
	cfg.Client.PollTimeoutMS = 20

	s, err := New(cfg, nil, nil)
	require.NoError(t, err)
	require.NotNil(t, s.Dedup)

	var mu sync.Mutex
	var frames []string
	_, err = s.Start(context.Background(), func(p *packet.Packet, f *transport.RawFrame) {
		assert.Nil(t, p)
		mu.Lock()
		frames = append(frames, string(f.Data))
		mu.Unlock()
	}, true)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	d := s.Client.Driver().(*fake.Driver)
	require.NoError(t, d.Inject("not a packet"))
	require.NoError(t, d.Inject("K1ABC>APRS:>twice"))
	require.NoError(t, d.Inject("K1ABC>APRS:>twice"))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(frames) == 4
	}, 2*time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{fake.SampleLine, "not a packet", "K1ABC>APRS:>twice", "K1ABC>APRS:>twice"}, frames)
	mu.Unlock()
}

func TestStackFatalWithoutDriver(t *testing.T) {
	cfg := config.Default()
	cfg.AprsNetwork.Enabled = true // no login, so not configured

	s, err := New(cfg, nil, nil)
	require.NoError(t, err)
	_, err = s.Start(context.Background(), func(*packet.Packet, *transport.RawFrame) {}, false)
	require.ErrorIs(t, err, transport.ErrNoEnabledDriver)
	assert.ErrorIs(t, err, transport.ErrMissingConfigOption)
	assert.True(t, Fatal(err))
	require.NoError(t, s.Close())
}

func TestFatal(t *testing.T) {
	assert.True(t, Fatal(&transport.AuthError{Login: "N0CALL", Message: "incorrect password"}))
	assert.False(t, Fatal(&transport.ConnectError{Kind: transport.KindAPRSIS, Attempts: 3, Err: errors.New("refused")}))
	assert.False(t, Fatal(nil))
}
