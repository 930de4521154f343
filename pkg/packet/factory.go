package packet

import (
	"fmt"
	"strings"
	"time"
)

// Raw is a structurally valid TNC2 line split into its parts.
type Raw struct {
	FromCall string
	ToCall   string
	Path     []string
	Body     string
	Line     string
}

// Parse splits a TNC2 line. It fails with ErrDecode only when the header
// cannot be found; payload interpretation is Factory's job.
func Parse(line string) (*Raw, error) {
	line = strings.TrimRight(line, "\r\n")
	head, body, ok := strings.Cut(line, ":")
	if !ok {
		return nil, fmt.Errorf("%w: no information field in %q", ErrDecode, line)
	}
	from, rest, ok := strings.Cut(head, ">")
	if !ok || from == "" || rest == "" {
		return nil, fmt.Errorf("%w: bad header %q", ErrDecode, head)
	}
	parts := strings.Split(rest, ",")
	return &Raw{FromCall: from, ToCall: parts[0], Path: parts[1:], Body: body, Line: line}, nil
}

type builder func(p *Packet, body string)

// builders is keyed by the APRS data type identifier (first body byte).
var builders = map[byte]struct {
	typ   Type
	build builder
}{
	':': {TypeMessage, buildMessage},
	'!': {TypePosition, buildComment},
	'=': {TypePosition, buildComment},
	'/': {TypePosition, buildComment},
	'@': {TypePosition, buildComment},
	'>': {TypeStatus, buildStatus},
	';': {TypeObject, buildComment},
	'_': {TypeWeather, buildComment},
	'T': {TypeTelemetry, buildComment},
}

// Factory turns a parsed line into a typed packet. It never fails: bodies it
// does not understand yield a TypeUnknown packet.
func Factory(raw *Raw) *Packet {
	p := &Packet{
		FromCall:   raw.FromCall,
		ToCall:     raw.ToCall,
		Path:       raw.Path,
		Raw:        raw.Line,
		ReceivedAt: time.Now(),
		payload:    raw.Body,
		prepared:   true,
	}
	if raw.Body == "" {
		return p
	}
	if b, ok := builders[raw.Body[0]]; ok {
		p.Type = b.typ
		b.build(p, raw.Body[1:])
		return p
	}
	p.Comment = raw.Body
	return p
}

// FromLine is Parse followed by Factory.
func FromLine(line string) (*Packet, error) {
	raw, err := Parse(line)
	if err != nil {
		return nil, err
	}
	return Factory(raw), nil
}

func buildComment(p *Packet, body string) { p.Comment = body }

func buildStatus(p *Packet, body string) { p.Comment = body }

// buildMessage handles ":ADDRESSEE:text{id", ack and rej forms.
func buildMessage(p *Packet, body string) {
	if len(body) < 10 || body[9] != ':' {
		p.Type = TypeUnknown
		p.Comment = ":" + body
		return
	}
	p.Addressee = strings.TrimSpace(body[:9])
	text := body[10:]
	switch {
	case strings.HasPrefix(text, "ack"):
		p.Type = TypeAck
		p.MsgNo = strings.TrimSpace(text[3:])
	case strings.HasPrefix(text, "rej"):
		p.Type = TypeReject
		p.MsgNo = strings.TrimSpace(text[3:])
	default:
		if i := strings.LastIndexByte(text, '{'); i >= 0 {
			p.MsgNo = strings.TrimRight(text[i+1:], "}")
			text = text[:i]
		}
		p.Text = text
	}
}
