// Package tcp is the KISS-over-TCP transport (Direwolf, soundmodem, or a
// hardware TNC behind a terminal server).
package tcp

import (
	"context"
	"net"
	"strconv"
	"strings"

	"aprslink/pkg/config"
	"aprslink/pkg/transport"
	"aprslink/pkg/transport/kisslink"
)

// Variant registers the driver with a transport.Registry.
func Variant() transport.Variant {
	return transport.Variant{
		Name:       "tcpkiss",
		Kind:       transport.KindTCPKISS,
		Enabled:    func(cfg *config.Config) bool { return cfg.KissTCP.Enabled },
		Configured: Configured,
		New: func(cfg *config.Config, deps transport.Deps) (transport.Driver, error) {
			return New(cfg, deps), nil
		},
	}
}

// Configured requires host and port.
func Configured(cfg *config.Config) error {
	if strings.TrimSpace(cfg.KissTCP.Host) == "" {
		return transport.MissingOption("kiss_tcp.host")
	}
	if cfg.KissTCP.Port <= 0 {
		return transport.MissingOption("kiss_tcp.port")
	}
	return nil
}

// New returns a disconnected KISS driver that dials host:port on connect.
func New(cfg *config.Config, deps transport.Deps) *kisslink.Driver {
	k := cfg.KissTCP
	addr := net.JoinHostPort(k.Host, strconv.Itoa(k.Port))
	timeout := cfg.Connect.DialTimeout()
	return kisslink.New(kisslink.Options{
		Kind: transport.KindTCPKISS,
		Open: func(ctx context.Context) (kisslink.Conn, error) {
			d := &net.Dialer{Timeout: timeout}
			c, err := d.DialContext(ctx, "tcp", addr)
			if err != nil {
				return nil, err
			}
			return kisslink.NetConn(c), nil
		},
		Endpoint:   kisslink.Endpoint{Host: k.Host, Port: k.Port},
		Path:       k.Path,
		Policy:     transport.PolicyFromConfig(cfg.Connect),
		StaleAfter: cfg.Keepalive.StaleAfter(),
		Log:        deps.Log,
		Metrics:    deps.Metrics,
	})
}
