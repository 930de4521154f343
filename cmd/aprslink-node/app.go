package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"aprslink/pkg/config"
	netstack "aprslink/pkg/core/netstack"
	"aprslink/pkg/observability"
	"aprslink/pkg/packet"
	"aprslink/pkg/transport"
)

// run is the main entry point after CLI parsing.
func run(opts Options) int {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return 1
	}
	if opts.Filter != "" {
		cfg.AprsNetwork.Filter = opts.Filter
	}

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
		return 1
	}
	defer func() { _ = logger.Sync() }()

	zap.L().Info("aprslink-node started", zap.String("app", cfg.AppName), zap.String("version", cfg.Version))
	zap.L().Debug("effective configuration", zap.Any("config", redacted(cfg)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := observability.NewRegistry()
	stack, err := netstack.New(cfg, logger, reg)
	if err != nil {
		zap.L().Error("failed to assemble transports", zap.Error(err))
		return 1
	}

	if cfg.Metrics.Enabled {
		go func() {
			if err := observability.ServeMetrics(ctx, cfg.Metrics.Listen, reg, logger); err != nil {
				zap.L().Error("metrics endpoint failed", zap.Error(err))
			}
		}()
	}

	plog := observability.PacketLogger(logger, cfg.EnablePacketLogging || opts.Raw)
	handler := func(p *packet.Packet, f *transport.RawFrame) {
		if opts.Raw {
			plog.Info("frame", zap.Stringer("transport", f.Kind), zap.ByteString("data", f.Data))
			return
		}
		plog.Info("packet",
			zap.Stringer("type", p.Type),
			zap.String("from", p.FromCall),
			zap.String("to", p.ToCall),
			zap.String("raw", p.Raw))
	}

	errc, err := stack.Start(ctx, handler, opts.Raw)
	if err != nil {
		zap.L().Error("failed to start transport", zap.Error(err))
		_ = stack.Close()
		return 1
	}
	zap.L().Info("node is running; press Ctrl+C to exit",
		zap.Stringer("transport", stack.Client.Stats().Transport),
		zap.String("session", stack.Client.SessionID()))

	code := 0
	select {
	case <-ctx.Done():
		zap.L().Info("shutting down")
	case err, ok := <-errc:
		if ok && err != nil {
			zap.L().Error("receive loop stopped", zap.Error(err))
			if netstack.Fatal(err) {
				code = 1
			}
		}
	}
	if err := stack.Close(); err != nil {
		zap.L().Warn("close transport", zap.Error(err))
	}
	return code
}

// redacted returns a copy of cfg safe to log.
func redacted(cfg *config.Config) config.Config {
	c := *cfg
	if c.AprsNetwork.Password != "" && c.AprsNetwork.Password != "-1" {
		c.AprsNetwork.Password = "***"
	}
	return c
}
