// Package keepalive drives periodic liveness checks over a set of
// registered producers. A producer that fails or panics is logged and
// skipped; the others are still visited.
package keepalive

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrInvalidProducer is returned by Register for a value that implements
// neither Checker nor Logger.
var ErrInvalidProducer = errors.New("keepalive: producer implements neither check nor log")

// Checker verifies liveness and repairs it when needed.
type Checker interface {
	KeepaliveCheck(ctx context.Context) error
}

// Logger reports liveness for operators.
type Logger interface {
	KeepaliveLog()
}

type producer struct {
	name  string
	check Checker
	log   Logger
}

// Supervisor visits producers in registration order.
type Supervisor struct {
	log *zap.Logger

	mu        sync.RWMutex
	producers []producer
}

func NewSupervisor(log *zap.Logger) *Supervisor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Supervisor{log: log.Named("keepalive")}
}

// Register adds p under name. p must implement Checker, Logger or both.
func (s *Supervisor) Register(name string, p any) error {
	c, isChecker := p.(Checker)
	l, isLogger := p.(Logger)
	if !isChecker && !isLogger {
		return fmt.Errorf("%w: %s (%T)", ErrInvalidProducer, name, p)
	}
	s.mu.Lock()
	s.producers = append(s.producers, producer{name: name, check: c, log: l})
	s.mu.Unlock()
	return nil
}

// Len reports how many producers are registered.
func (s *Supervisor) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.producers)
}

func (s *Supervisor) snapshot() []producer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]producer(nil), s.producers...)
}

// RunCheck calls KeepaliveCheck on every Checker. It returns the number of
// producers that failed.
func (s *Supervisor) RunCheck(ctx context.Context) int {
	failed := 0
	for _, p := range s.snapshot() {
		if p.check == nil {
			continue
		}
		if err := s.guard(p.name, "check", func() error { return p.check.KeepaliveCheck(ctx) }); err != nil {
			failed++
		}
	}
	return failed
}

// RunLog calls KeepaliveLog on every Logger, with the same isolation.
func (s *Supervisor) RunLog() int {
	failed := 0
	for _, p := range s.snapshot() {
		if p.log == nil {
			continue
		}
		if err := s.guard(p.name, "log", func() error { p.log.KeepaliveLog(); return nil }); err != nil {
			failed++
		}
	}
	return failed
}

func (s *Supervisor) guard(name, op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("keepalive producer panicked", zap.String("producer", name), zap.String("op", op), zap.Any("panic", r))
		}
	}()
	if err = fn(); err != nil {
		s.log.Warn("keepalive producer failed", zap.String("producer", name), zap.String("op", op), zap.Error(err))
	}
	return err
}

// Run checks and logs every interval until ctx ends.
func (s *Supervisor) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.RunCheck(ctx)
			s.RunLog()
		}
	}
}
