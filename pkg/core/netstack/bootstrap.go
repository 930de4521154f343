// Package netstack assembles the transport registry, client facade and
// keepalive supervisor from configuration.
package netstack

import (
	"context"
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"aprslink/pkg/client"
	"aprslink/pkg/config"
	"aprslink/pkg/dedup"
	"aprslink/pkg/keepalive"
	"aprslink/pkg/transport"
	"aprslink/pkg/transport/aprsis"
	"aprslink/pkg/transport/fake"
	"aprslink/pkg/transport/serial"
	"aprslink/pkg/transport/tcp"
)

// ErrUnknownKind names a transport kind that does not exist.
type ErrUnknownKind string

func (e ErrUnknownKind) Error() string { return "unknown transport kind: " + string(e) }

// VariantByKind returns the variant for a kind name such as "aprsis".
func VariantByKind(kind string) (transport.Variant, error) {
	switch kind {
	case "aprsis", "aprs-is", "aprs_network":
		return aprsis.Variant(), nil
	case "tcpkiss", "tcp", "kiss_tcp":
		return tcp.Variant(), nil
	case "serialkiss", "serial", "kiss_serial":
		return serial.Variant(), nil
	case "fake", "sim":
		return fake.Variant(), nil
	default:
		return transport.Variant{}, ErrUnknownKind(kind)
	}
}

// DefaultOrder is the registry priority: the aggregator first, then the
// physical TNCs, the simulator last.
var DefaultOrder = []string{"aprsis", "tcpkiss", "serialkiss", "fake"}

// NewRegistry registers the variants named in order.
func NewRegistry(cfg *config.Config, deps transport.Deps, order ...string) (*transport.Registry, error) {
	if len(order) == 0 {
		order = DefaultOrder
	}
	r := transport.NewRegistry(cfg, deps)
	for _, k := range order {
		v, err := VariantByKind(k)
		if err != nil {
			return nil, err
		}
		if err := r.Register(v); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Stack is everything a running process owns.
type Stack struct {
	Config     *config.Config
	Log        *zap.Logger
	Metrics    *prometheus.Registry
	Transport  *transport.Metrics
	Registry   *transport.Registry
	Client     *client.Client
	Supervisor *keepalive.Supervisor
	Dedup      *dedup.Cache // nil when disabled

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires the stack without starting any I/O.
func New(cfg *config.Config, log *zap.Logger, reg *prometheus.Registry, order ...string) (*Stack, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	deps := transport.Deps{Log: log, Metrics: transport.NewMetrics(reg)}
	registry, err := NewRegistry(cfg, deps, order...)
	if err != nil {
		return nil, err
	}
	var seen *dedup.Cache
	if w := cfg.Client.DedupWindow(); w > 0 {
		seen = dedup.New(dedup.Options{Window: w})
	}
	c := client.New(registry, client.Options{
		AutoConnect:        cfg.Client.AutoConnect,
		PollTimeout:        cfg.Client.PollTimeout(),
		ReconnectPerMinute: cfg.Client.ReconnectPerMinute,
		Filter:             cfg.AprsNetwork.Filter,
		Dedup:              seen,
		Log:                log,
		Registerer:         reg,
	})
	sup := keepalive.NewSupervisor(log)
	if err := sup.Register("client", c); err != nil {
		return nil, err
	}
	return &Stack{
		Config:     cfg,
		Log:        log,
		Metrics:    reg,
		Transport:  deps.Metrics,
		Registry:   registry,
		Client:     c,
		Supervisor: sup,
		Dedup:      seen,
	}, nil
}

// Start connects the client and launches the receive worker and the
// keepalive supervisor. Fatal connection errors at startup are returned;
// transient ones are left to the worker's reconnect loop. The worker's exit
// error surfaces on the returned channel, which is closed when it exits.
// With raw set the handler gets every frame undecoded and unfiltered.
func (s *Stack) Start(ctx context.Context, h client.Handler, raw bool) (<-chan error, error) {
	if err := s.Client.Connect(ctx); err != nil {
		if Fatal(err) {
			return nil, err
		}
		s.Log.Warn("initial connect failed; retrying in background", zap.Error(err))
	}
	ctx, s.cancel = context.WithCancel(ctx)
	errc := make(chan error, 1)
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		defer close(errc)
		if err := s.Client.Run(ctx, h, raw); err != nil {
			errc <- err
		}
	}()
	go func() {
		defer s.wg.Done()
		s.Supervisor.Run(ctx, s.Config.Keepalive.Interval())
	}()
	return errc, nil
}

// Close stops the client and the workers and waits for them to exit.
func (s *Stack) Close() error {
	err := s.Client.Close()
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	if s.Dedup != nil {
		s.Dedup.Close()
	}
	return err
}

// Fatal reports whether err should stop the process: no usable transport,
// or a login the server rejected.
func Fatal(err error) bool {
	return errors.Is(err, transport.ErrNoEnabledDriver) || transport.IsAuthFailure(err)
}
