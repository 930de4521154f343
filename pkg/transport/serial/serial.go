// Package serial is the KISS transport for a TNC on a serial port.
package serial

import (
	"context"
	"strings"

	"go.bug.st/serial"

	"aprslink/pkg/config"
	"aprslink/pkg/transport"
	"aprslink/pkg/transport/kisslink"
)

// openPort is replaced in tests.
var openPort = func(device string, mode *serial.Mode) (kisslink.Conn, error) {
	return serial.Open(device, mode)
}

// Variant registers the driver with a transport.Registry.
func Variant() transport.Variant {
	return transport.Variant{
		Name:       "serialkiss",
		Kind:       transport.KindSerialKISS,
		Enabled:    func(cfg *config.Config) bool { return cfg.KissSerial.Enabled },
		Configured: Configured,
		New: func(cfg *config.Config, deps transport.Deps) (transport.Driver, error) {
			return New(cfg, deps), nil
		},
	}
}

// Configured requires device and baudrate.
func Configured(cfg *config.Config) error {
	if strings.TrimSpace(cfg.KissSerial.Device) == "" {
		return transport.MissingOption("kiss_serial.device")
	}
	if cfg.KissSerial.Baudrate <= 0 {
		return transport.MissingOption("kiss_serial.baudrate")
	}
	return nil
}

// New returns a disconnected KISS driver that opens the device 8N1 at the
// configured baud rate.
func New(cfg *config.Config, deps transport.Deps) *kisslink.Driver {
	k := cfg.KissSerial
	return kisslink.New(kisslink.Options{
		Kind: transport.KindSerialKISS,
		Open: func(ctx context.Context) (kisslink.Conn, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return openPort(k.Device, &serial.Mode{
				BaudRate: k.Baudrate,
				DataBits: 8,
				Parity:   serial.NoParity,
				StopBits: serial.OneStopBit,
			})
		},
		Endpoint:   kisslink.Endpoint{Device: k.Device, Baudrate: k.Baudrate},
		Path:       k.Path,
		Policy:     transport.PolicyFromConfig(cfg.Connect),
		StaleAfter: cfg.Keepalive.StaleAfter(),
		Log:        deps.Log,
		Metrics:    deps.Metrics,
	})
}
