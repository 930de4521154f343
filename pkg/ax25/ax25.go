// Package ax25 packs APRS packets into AX.25 UI frames and back. Only what is
// needed to carry a packet inside a KISS data frame is implemented.
package ax25

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	ControlUI byte = 0x03
	PIDNoL3   byte = 0xF0

	addrLen  = 7
	maxPath  = 8
	callLen  = 6
	ssidMask = 0x1E
	hBit     = 0x80 // has-been-repeated on digipeater entries
	extBit   = 0x01 // last address
)

// ErrInvalidFrame reports a frame that cannot be unpacked.
var ErrInvalidFrame = errors.New("ax25: invalid frame")

// Frame is an unnumbered information frame.
type Frame struct {
	Destination string
	Source      string
	Path        []string // digipeaters; a trailing '*' marks a used hop
	Info        []byte
}

// Encode packs f into the raw AX.25 bytes carried by a KISS data frame.
func Encode(f Frame) ([]byte, error) {
	if len(f.Path) > maxPath {
		return nil, fmt.Errorf("ax25: %d digipeaters, max %d", len(f.Path), maxPath)
	}
	addrs := append([]string{f.Destination, f.Source}, f.Path...)
	out := make([]byte, 0, len(addrs)*addrLen+2+len(f.Info))
	for i, a := range addrs {
		enc, err := encodeAddress(a, i == len(addrs)-1, i >= 2)
		if err != nil {
			return nil, err
		}
		out = append(out, enc...)
	}
	out = append(out, ControlUI, PIDNoL3)
	return append(out, f.Info...), nil
}

func encodeAddress(addr string, last, digi bool) ([]byte, error) {
	repeated := false
	if digi && strings.HasSuffix(addr, "*") {
		repeated = true
		addr = strings.TrimSuffix(addr, "*")
	}
	call, ssid, err := splitCall(addr)
	if err != nil {
		return nil, err
	}
	b := make([]byte, addrLen)
	for i := 0; i < callLen; i++ {
		c := byte(' ')
		if i < len(call) {
			c = call[i]
		}
		b[i] = c << 1
	}
	b[6] = 0x60 | byte(ssid<<1)
	if repeated {
		b[6] |= hBit
	}
	if last {
		b[6] |= extBit
	}
	return b, nil
}

func splitCall(addr string) (string, int, error) {
	addr = strings.ToUpper(strings.TrimSpace(addr))
	call, ssidStr, hasSSID := strings.Cut(addr, "-")
	if call == "" || len(call) > callLen {
		return "", 0, fmt.Errorf("ax25: invalid callsign %q", addr)
	}
	for i := 0; i < len(call); i++ {
		c := call[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return "", 0, fmt.Errorf("ax25: invalid callsign %q", addr)
		}
	}
	if !hasSSID {
		return call, 0, nil
	}
	ssid, err := strconv.Atoi(ssidStr)
	if err != nil || ssid < 0 || ssid > 15 {
		return "", 0, fmt.Errorf("ax25: invalid ssid in %q", addr)
	}
	return call, ssid, nil
}

// Decode unpacks a raw UI frame.
func Decode(raw []byte) (Frame, error) {
	var addrs []string
	i := 0
	for {
		if i+addrLen > len(raw) {
			return Frame{}, fmt.Errorf("%w: truncated address field", ErrInvalidFrame)
		}
		a := raw[i : i+addrLen]
		addrs = append(addrs, decodeAddress(a, len(addrs) >= 2))
		i += addrLen
		if a[6]&extBit != 0 {
			break
		}
		if len(addrs) == 2+maxPath {
			return Frame{}, fmt.Errorf("%w: too many addresses", ErrInvalidFrame)
		}
	}
	if len(addrs) < 2 {
		return Frame{}, fmt.Errorf("%w: missing source address", ErrInvalidFrame)
	}
	if i+2 > len(raw) {
		return Frame{}, fmt.Errorf("%w: missing control/pid", ErrInvalidFrame)
	}
	if raw[i] != ControlUI {
		return Frame{}, fmt.Errorf("%w: not a UI frame (control 0x%02X)", ErrInvalidFrame, raw[i])
	}
	info := make([]byte, len(raw)-i-2)
	copy(info, raw[i+2:])
	return Frame{Destination: addrs[0], Source: addrs[1], Path: addrs[2:], Info: info}, nil
}

func decodeAddress(a []byte, digi bool) string {
	var sb strings.Builder
	for i := 0; i < callLen; i++ {
		c := a[i] >> 1
		if c == ' ' {
			break
		}
		sb.WriteByte(c)
	}
	if ssid := int(a[6]&ssidMask) >> 1; ssid != 0 {
		sb.WriteByte('-')
		sb.WriteString(strconv.Itoa(ssid))
	}
	if digi && a[6]&hBit != 0 {
		sb.WriteByte('*')
	}
	return sb.String()
}

// TNC2 renders the frame as the text line APRS software exchanges:
// SRC>DST,PATH:info
func (f Frame) TNC2() string {
	var sb strings.Builder
	sb.WriteString(f.Source)
	sb.WriteByte('>')
	sb.WriteString(f.Destination)
	for _, p := range f.Path {
		sb.WriteByte(',')
		sb.WriteString(p)
	}
	sb.WriteByte(':')
	sb.Write(f.Info)
	return sb.String()
}
