package transport

import (
	"time"
)

// Stats is a point-in-time snapshot of a driver. Zero values are reported
// for a driver that is not connected.
type Stats struct {
	Transport   Kind
	Connected   bool
	State       State
	Filter      string
	LoginStatus LoginStatus
	Keepalive   time.Time
	SessionID   string

	// Endpoint details; which ones are set depends on the transport.
	ServerString string
	Host         string
	Port         int
	Device       string
	Baudrate     int
	Path         []string

	// KISS transports only.
	Counters *Counters
}

// Counters are frame counters kept by the KISS transports.
type Counters struct {
	PacketsSent        uint64
	PacketsReceived    uint64
	LastPacketSent     time.Time
	LastPacketReceived time.Time
}

// Map renders the snapshot with the keys operators and tooling expect.
// When serializable is set, instants become RFC 3339 strings and nested
// values use only JSON-compatible types.
func (s Stats) Map(serializable bool) map[string]any {
	ts := func(t time.Time) any {
		if !serializable {
			return t
		}
		if t.IsZero() {
			return nil
		}
		return t.UTC().Format(time.RFC3339Nano)
	}
	var filter any
	if s.Filter != "" {
		filter = s.Filter
	}
	var login any = map[string]any{"success": s.LoginStatus.Success, "message": s.LoginStatus.Message}
	if !serializable {
		login = s.LoginStatus
	}
	m := map[string]any{
		"transport":            s.Transport.String(),
		"connected":            s.Connected,
		"state":                s.State.String(),
		"filter":               filter,
		"login_status":         login,
		"connection_keepalive": ts(s.Keepalive),
	}
	if s.SessionID != "" {
		m["session_id"] = s.SessionID
	}
	if s.ServerString != "" {
		m["server_string"] = s.ServerString
	}
	if s.Host != "" {
		m["host"] = s.Host
	}
	if s.Port != 0 {
		m["port"] = s.Port
	}
	if s.Device != "" {
		m["device"] = s.Device
	}
	if s.Baudrate != 0 {
		m["baudrate"] = s.Baudrate
	}
	if len(s.Path) > 0 {
		path := make([]any, len(s.Path))
		for i, p := range s.Path {
			path[i] = p
		}
		m["path"] = path
	}
	if c := s.Counters; c != nil {
		m["packets_sent"] = c.PacketsSent
		m["packets_received"] = c.PacketsReceived
		m["last_packet_sent"] = ts(c.LastPacketSent)
		m["last_packet_received"] = ts(c.LastPacketReceived)
	}
	return m
}
