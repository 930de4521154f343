package kisslink

import (
	"net"
	"sync/atomic"
	"time"

	"aprslink/pkg/transport"
)

// NetConn adapts a net.Conn to Conn: the read timeout becomes a deadline
// set before each Read, and an expired deadline reads as (0, nil).
func NetConn(c net.Conn) Conn { return &netConn{Conn: c} }

type netConn struct {
	net.Conn
	timeout atomic.Int64
}

func (c *netConn) SetReadTimeout(d time.Duration) error {
	c.timeout.Store(int64(d))
	return nil
}

func (c *netConn) Read(p []byte) (int, error) {
	var deadline time.Time
	if t := time.Duration(c.timeout.Load()); t > 0 {
		deadline = time.Now().Add(t)
	}
	if err := c.Conn.SetReadDeadline(deadline); err != nil {
		return 0, err
	}
	n, err := c.Conn.Read(p)
	if err != nil && transport.IsTimeout(err) {
		return n, nil
	}
	return n, err
}
