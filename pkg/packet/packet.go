// Package packet is the boundary between transports and the APRS packet
// model. Drivers only touch FromCall, ToCall, Path and the prepared payload;
// everything else is for callers.
package packet

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultToCall is the destination used for packets we originate.
const DefaultToCall = "APZ100"

// ErrDecode reports a line that is not a structurally valid TNC2 packet.
var ErrDecode = errors.New("packet: decode failed")

// Type discriminates packet variants.
type Type int

const (
	TypeUnknown Type = iota
	TypeMessage
	TypeAck
	TypeReject
	TypePosition
	TypeStatus
	TypeObject
	TypeWeather
	TypeTelemetry
)

func (t Type) String() string {
	switch t {
	case TypeMessage:
		return "message"
	case TypeAck:
		return "ack"
	case TypeReject:
		return "reject"
	case TypePosition:
		return "position"
	case TypeStatus:
		return "status"
	case TypeObject:
		return "object"
	case TypeWeather:
		return "weather"
	case TypeTelemetry:
		return "telemetry"
	default:
		return "unknown"
	}
}

// Packet is one APRS packet. Once handed to a driver for sending it must not
// be mutated.
type Packet struct {
	Type     Type
	FromCall string
	ToCall   string
	Path     []string

	// Message, ack and reject packets.
	Addressee string
	Text      string
	MsgNo     string

	// Comment carries status text or the undecoded remainder of the body.
	Comment string

	// Raw is the line this packet was parsed from, if any.
	Raw        string
	ReceivedAt time.Time

	payload  string
	prepared bool
}

// Prepare renders the information field. A payload set by Parse is kept.
func (p *Packet) Prepare() error {
	if p.prepared {
		return nil
	}
	if p.FromCall == "" {
		return fmt.Errorf("packet: missing from call")
	}
	if p.ToCall == "" {
		p.ToCall = DefaultToCall
	}
	switch p.Type {
	case TypeMessage:
		p.payload = ":" + padAddressee(p.Addressee) + ":" + p.Text
		if p.MsgNo != "" {
			p.payload += "{" + p.MsgNo
		}
	case TypeAck:
		p.payload = ":" + padAddressee(p.Addressee) + ":ack" + p.MsgNo
	case TypeReject:
		p.payload = ":" + padAddressee(p.Addressee) + ":rej" + p.MsgNo
	case TypeStatus:
		p.payload = ">" + p.Comment
	default:
		if p.payload == "" {
			return fmt.Errorf("packet: cannot render %s packet without payload", p.Type)
		}
	}
	p.prepared = true
	return nil
}

// Payload returns the information field; valid after Prepare.
func (p *Packet) Payload() []byte { return []byte(p.payload) }

// TNC2 renders the packet as SRC>DST,PATH:payload; valid after Prepare.
func (p *Packet) TNC2() string {
	var sb strings.Builder
	sb.WriteString(p.FromCall)
	sb.WriteByte('>')
	sb.WriteString(p.ToCall)
	for _, hop := range p.Path {
		sb.WriteByte(',')
		sb.WriteString(hop)
	}
	sb.WriteByte(':')
	sb.WriteString(p.payload)
	return sb.String()
}

func (p *Packet) String() string {
	return fmt.Sprintf("%s %s>%s %q", p.Type, p.FromCall, p.ToCall, p.payload)
}

func padAddressee(a string) string {
	if len(a) >= 9 {
		return a[:9]
	}
	return a + strings.Repeat(" ", 9-len(a))
}

// NewMessage builds an outbound text message.
func NewMessage(from, to, text, msgNo string) *Packet {
	return &Packet{Type: TypeMessage, FromCall: from, ToCall: DefaultToCall, Addressee: to, Text: text, MsgNo: msgNo}
}

// NewAck builds an ack for msgNo.
func NewAck(from, to, msgNo string) *Packet {
	return &Packet{Type: TypeAck, FromCall: from, ToCall: DefaultToCall, Addressee: to, MsgNo: msgNo}
}

// NewStatus builds a status report.
func NewStatus(from, text string) *Packet {
	return &Packet{Type: TypeStatus, FromCall: from, ToCall: DefaultToCall, Comment: text}
}
