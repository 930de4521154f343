package keepalive

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct {
	checks atomic.Int32
	logs   atomic.Int32
	err    error
	panics bool
}

func (c *counter) KeepaliveCheck(context.Context) error {
	c.checks.Add(1)
	if c.panics {
		panic("boom")
	}
	return c.err
}

func (c *counter) KeepaliveLog() {
	c.logs.Add(1)
	if c.panics {
		panic("boom")
	}
}

type logOnly struct{ n int }

func (l *logOnly) KeepaliveLog() { l.n++ }

func TestRegisterRejectsNonProducers(t *testing.T) {
	s := NewSupervisor(nil)
	assert.ErrorIs(t, s.Register("nope", struct{}{}), ErrInvalidProducer)
	require.NoError(t, s.Register("log-only", &logOnly{}))
	assert.Equal(t, 1, s.Len())
}

func TestFailingProducerDoesNotStopOthers(t *testing.T) {
	s := NewSupervisor(nil)
	bad := &counter{err: errors.New("down")}
	boom := &counter{panics: true}
	good := &counter{}
	lo := &logOnly{}
	require.NoError(t, s.Register("bad", bad))
	require.NoError(t, s.Register("boom", boom))
	require.NoError(t, s.Register("good", good))
	require.NoError(t, s.Register("log-only", lo))

	assert.Equal(t, 2, s.RunCheck(context.Background()))
	assert.Equal(t, int32(1), good.checks.Load())
	assert.Equal(t, int32(1), bad.checks.Load())

	assert.Equal(t, 1, s.RunLog())
	assert.Equal(t, int32(1), good.logs.Load())
	assert.Equal(t, 1, lo.n)
}

func TestRunTicks(t *testing.T) {
	s := NewSupervisor(nil)
	c := &counter{}
	require.NoError(t, s.Register("c", c))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, 5*time.Millisecond)
		close(done)
	}()
	require.Eventually(t, func() bool { return c.checks.Load() >= 2 && c.logs.Load() >= 2 }, 2*time.Second, time.Millisecond)
	cancel()
	<-done
}
