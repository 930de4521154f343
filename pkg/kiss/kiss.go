// Package kiss implements the KISS TNC framing used by the TCP and serial
// transports: byte escaping, frame delimiting and the data-frame command byte.
package kiss

import (
	"bytes"
	"errors"
	"fmt"
)

// Reserved bytes (SLIP heritage).
const (
	FEND  byte = 0xC0
	FESC  byte = 0xDB
	TFEND byte = 0xDC
	TFESC byte = 0xDD
)

// CmdDataFrame is the command nibble of a data frame on port 0.
const CmdDataFrame byte = 0x00

// MinFrameLen is the shortest buffer Decode accepts: FEND, command, FEND.
// An empty payload encodes to exactly this, so Decode(Encode(nil)) holds.
const MinFrameLen = 3

// ErrFrame reports a malformed KISS frame.
var ErrFrame = errors.New("kiss: malformed frame")

// Frame is a decoded KISS frame with its command byte split out.
type Frame struct {
	Port    byte // high nibble of the command byte
	Command byte // low nibble of the command byte
	Payload []byte
}

// IsData reports whether the frame carries an AX.25 payload.
func (f Frame) IsData() bool { return f.Command == CmdDataFrame }

// Encode wraps payload as FEND + data command + escaped payload + FEND.
func Encode(payload []byte) []byte {
	return EncodeCommand(CmdDataFrame, payload)
}

// EncodeCommand is Encode with an explicit command byte (port<<4 | cmd).
// The command byte itself is escaped like any other byte.
func EncodeCommand(cmd byte, payload []byte) []byte {
	out := make([]byte, 0, len(payload)+4)
	out = append(out, FEND)
	out = appendEscaped(out, cmd)
	for _, b := range payload {
		out = appendEscaped(out, b)
	}
	return append(out, FEND)
}

func appendEscaped(out []byte, b byte) []byte {
	switch b {
	case FEND:
		return append(out, FESC, TFEND)
	case FESC:
		return append(out, FESC, TFESC)
	default:
		return append(out, b)
	}
}

// Decode strips the delimiters and command byte from raw and reverses the
// escaping. It does not look at the command value; see DecodeFrame.
func Decode(raw []byte) ([]byte, error) {
	f, err := DecodeFrame(raw)
	if err != nil {
		return nil, err
	}
	return f.Payload, nil
}

// DecodeFrame is Decode that also reports the port and command nibbles.
func DecodeFrame(raw []byte) (Frame, error) {
	if len(raw) < MinFrameLen {
		return Frame{}, fmt.Errorf("%w: %d bytes, need at least %d", ErrFrame, len(raw), MinFrameLen)
	}
	if raw[0] != FEND || raw[len(raw)-1] != FEND {
		return Frame{}, fmt.Errorf("%w: missing frame delimiter", ErrFrame)
	}
	body, err := unescape(raw[1 : len(raw)-1])
	if err != nil {
		return Frame{}, err
	}
	if len(body) == 0 {
		return Frame{}, fmt.Errorf("%w: missing command byte", ErrFrame)
	}
	return Frame{Port: body[0] >> 4, Command: body[0] & 0x0F, Payload: body[1:]}, nil
}

func unescape(in []byte) ([]byte, error) {
	out := make([]byte, 0, len(in))
	for i := 0; i < len(in); i++ {
		b := in[i]
		switch b {
		case FEND:
			return nil, fmt.Errorf("%w: delimiter inside frame at offset %d", ErrFrame, i+1)
		case FESC:
			if i+1 >= len(in) {
				return nil, fmt.Errorf("%w: dangling escape at offset %d", ErrFrame, i+1)
			}
			i++
			switch in[i] {
			case TFEND:
				out = append(out, FEND)
			case TFESC:
				out = append(out, FESC)
			default:
				return nil, fmt.Errorf("%w: invalid escape code 0x%02X", ErrFrame, in[i])
			}
		default:
			out = append(out, b)
		}
	}
	return out, nil
}

// Deframer accumulates bytes read from a stream and hands out complete
// delimited frames, FENDs included, ready for Decode. Bytes before the first
// FEND and empty FEND FEND pairs are dropped. Not safe for concurrent use.
type Deframer struct {
	buf []byte
	max int
}

// NewDeframer returns a Deframer that discards a pending partial frame once
// it grows beyond maxLen bytes (0 means 4096).
func NewDeframer(maxLen int) *Deframer {
	if maxLen <= 0 {
		maxLen = 4096
	}
	return &Deframer{max: maxLen}
}

// Write appends a chunk read from the wire. It never fails.
func (d *Deframer) Write(p []byte) (int, error) {
	d.buf = append(d.buf, p...)
	return len(p), nil
}

// Buffered reports how many bytes are waiting for a closing delimiter.
func (d *Deframer) Buffered() int { return len(d.buf) }

// Next returns the next complete frame, or false if none is buffered yet.
func (d *Deframer) Next() ([]byte, bool) {
	for {
		start := bytes.IndexByte(d.buf, FEND)
		if start < 0 {
			d.buf = d.buf[:0]
			return nil, false
		}
		d.buf = d.buf[start:]
		end := bytes.IndexByte(d.buf[1:], FEND)
		if end < 0 {
			if len(d.buf) > d.max {
				d.buf = d.buf[:0]
			}
			return nil, false
		}
		end++
		if end == 1 {
			// FEND FEND: the second one may open the next frame
			d.buf = d.buf[1:]
			continue
		}
		frame := make([]byte, end+1)
		copy(frame, d.buf[:end+1])
		d.buf = d.buf[end:]
		return frame, true
	}
}
