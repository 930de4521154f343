package fake

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aprslink/pkg/packet"
	"aprslink/pkg/transport"
)

func TestSampleThenIdle(t *testing.T) {
	d := New(0, transport.Deps{})
	require.NoError(t, d.Connect(context.Background()))
	assert.True(t, d.IsAlive())

	f, err := d.ReceiveOne(context.Background(), time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, f)
	p := d.Decode(f)
	require.NotNil(t, p)
	assert.Equal(t, packet.TypeStatus, p.Type)
	assert.Equal(t, "N0CALL-1", p.FromCall)

	f, err = d.ReceiveOne(context.Background(), 10*time.Millisecond)
	assert.NoError(t, err)
	assert.Nil(t, f)
}

func TestInjectAndSend(t *testing.T) {
	d := New(0, transport.Deps{})
	require.NoError(t, d.Connect(context.Background()))
	_, _ = d.ReceiveOne(context.Background(), time.Millisecond)

	require.NoError(t, d.Inject("K1ABC>APRS::N0CALL   :ping{3"))
	f, err := d.ReceiveOne(context.Background(), time.Second)
	require.NoError(t, err)
	p := d.Decode(f)
	require.NotNil(t, p)
	assert.Equal(t, packet.TypeMessage, p.Type)
	assert.Equal(t, "3", p.MsgNo)

	require.NoError(t, d.Send(context.Background(), packet.NewAck("N0CALL", "K1ABC", "3")))
	sent := d.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "N0CALL>APZ100::K1ABC    :ack3", sent[0].TNC2())

	st := d.Stats()
	assert.Equal(t, uint64(1), st.Counters.PacketsSent)
	assert.Equal(t, uint64(2), st.Counters.PacketsReceived)
}

func TestSendBeforeConnect(t *testing.T) {
	d := New(0, transport.Deps{})
	err := d.Send(context.Background(), packet.NewStatus("N0CALL", "x"))
	assert.ErrorIs(t, err, transport.ErrNotConnected)
}

func TestCloseUnblocksReceive(t *testing.T) {
	d := New(0, transport.Deps{})
	require.NoError(t, d.Connect(context.Background()))
	_, _ = d.ReceiveOne(context.Background(), time.Millisecond)

	errc := make(chan error, 1)
	go func() {
		_, err := d.ReceiveOne(context.Background(), time.Minute)
		errc <- err
	}()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, d.Close())
	require.NoError(t, d.Close())

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, transport.ErrNotConnected)
	case <-time.After(2 * time.Second):
		t.Fatal("receive did not observe close")
	}
	assert.Error(t, d.Connect(context.Background()))
	assert.Error(t, d.Inject("x"))
}

func TestExpireMakesStale(t *testing.T) {
	d := New(0, transport.Deps{})
	require.NoError(t, d.Connect(context.Background()))
	d.Expire()
	assert.False(t, d.IsAlive())
}
