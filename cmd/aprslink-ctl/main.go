// Command aprslink-ctl performs one-shot operations against the configured
// transport: sending a message or status, or dumping connection stats.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"aprslink/pkg/codec"
	"aprslink/pkg/config"
	netstack "aprslink/pkg/core/netstack"
	"aprslink/pkg/observability"
	"aprslink/pkg/packet"
)

const usage = `usage: aprslink-ctl [-config file] <command> [flags]

commands:
  send   -to CALL -text TEXT [-msgno N]   send a message (or a status with no -to)
  stats  [-format json|cbor|proto]        connect and print connection stats
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("aprslink-ctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to YAML config file")
	timeout := fs.Duration("timeout", 15*time.Second, "connect and send timeout")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "failed to load config: %v\n", err)
		return 1
	}
	// one-shot commands must not block on reconnects
	cfg.Client.AutoConnect = false

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "send":
		return send(cfg, rest, *timeout, stderr)
	case "stats":
		return stats(cfg, rest, *timeout, stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n%s", cmd, usage)
		return 2
	}
}

func open(ctx context.Context, cfg *config.Config) (*netstack.Stack, error) {
	log, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	s, err := netstack.New(cfg, log, nil)
	if err != nil {
		return nil, err
	}
	if err := s.Client.Connect(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func send(cfg *config.Config, args []string, timeout time.Duration, stderr io.Writer) int {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	fs.SetOutput(stderr)
	from := fs.String("from", cfg.Callsign, "source callsign")
	to := fs.String("to", "", "addressee; empty sends a status report")
	text := fs.String("text", "", "message or status text")
	msgNo := fs.String("msgno", "", "message number for acknowledgement")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *from == "" || *text == "" {
		fmt.Fprintln(stderr, "send: -from (or callsign in config) and -text are required")
		return 2
	}

	var p *packet.Packet
	if *to != "" {
		p = packet.NewMessage(strings.ToUpper(*from), strings.ToUpper(*to), *text, *msgNo)
	} else {
		p = packet.NewStatus(strings.ToUpper(*from), *text)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	s, err := open(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "connect: %v\n", err)
		return 1
	}
	defer func() { _ = s.Close() }()

	if err := s.Client.Send(ctx, p); err != nil {
		fmt.Fprintf(stderr, "send: %v\n", err)
		return 1
	}
	zap.L().Info("sent", zap.String("packet", p.TNC2()))
	return 0
}

func stats(cfg *config.Config, args []string, timeout time.Duration, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	fs.SetOutput(stderr)
	format := fs.String("format", "json", "output format: json, cbor or proto")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	codecs, err := codec.NewRegistry()
	if err != nil {
		fmt.Fprintf(stderr, "codecs: %v\n", err)
		return 1
	}
	if codecs.Get(*format) == nil {
		fmt.Fprintf(stderr, "stats: unknown format %q (have %s)\n", *format, strings.Join(codecs.Names(), ", "))
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	s, err := open(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "connect: %v\n", err)
		return 1
	}
	defer func() { _ = s.Close() }()

	m := s.Client.Stats().Map(true)
	m["client_session_id"] = s.Client.SessionID()
	m["keepalive_age"] = s.Client.KeepaliveAge()
	b, err := codecs.EncodeMap(*format, m)
	if err != nil {
		fmt.Fprintf(stderr, "stats: %v\n", err)
		return 1
	}
	_, _ = stdout.Write(b)
	return 0
}
