package transport

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"aprslink/pkg/config"
)

// Deps are the shared collaborators handed to driver constructors.
type Deps struct {
	Log     *zap.Logger
	Metrics *Metrics
}

// Variant describes one driver kind: how to tell whether configuration
// selects it and how to build an instance. Enabled and Configured must not
// perform I/O.
type Variant struct {
	Name       string
	Kind       Kind
	Enabled    func(cfg *config.Config) bool
	Configured func(cfg *config.Config) error
	New        func(cfg *config.Config, deps Deps) (Driver, error)
}

func (v Variant) validate() error {
	var missing []string
	if strings.TrimSpace(v.Name) == "" {
		missing = append(missing, "name")
	}
	if v.Enabled == nil {
		missing = append(missing, "enabled")
	}
	if v.Configured == nil {
		missing = append(missing, "configured")
	}
	if v.New == nil {
		missing = append(missing, "constructor")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w %q: missing %s", ErrInvalidDriver, v.Name, strings.Join(missing, ", "))
	}
	return nil
}

// Registry is an ordered priority list of driver variants. The first variant
// that is both enabled and configured wins.
type Registry struct {
	mu       sync.RWMutex
	variants []Variant
	cfg      *config.Config
	deps     Deps
}

// NewRegistry returns an empty registry bound to cfg.
func NewRegistry(cfg *config.Config, deps Deps) *Registry {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	return &Registry{cfg: cfg, deps: deps}
}

// Register appends v to the priority list.
func (r *Registry) Register(v Variant) error {
	if err := v.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, have := range r.variants {
		if have.Name == v.Name {
			return fmt.Errorf("%w: %q already registered", ErrInvalidDriver, v.Name)
		}
	}
	r.variants = append(r.variants, v)
	return nil
}

// Unregister removes the named variant; it reports whether it was present.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, v := range r.variants {
		if v.Name == name {
			r.variants = append(r.variants[:i:i], r.variants[i+1:]...)
			return true
		}
	}
	return false
}

// Names lists registered variants in priority order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.variants))
	for i, v := range r.variants {
		out[i] = v.Name
	}
	return out
}

// GetDriver builds a fresh instance of the first enabled and configured
// variant. Enabled but incomplete variants are skipped with a warning.
func (r *Registry) GetDriver() (Driver, error) {
	r.mu.RLock()
	variants := append([]Variant(nil), r.variants...)
	r.mu.RUnlock()

	var skipped []error
	for _, v := range variants {
		if !v.Enabled(r.cfg) {
			continue
		}
		if err := v.Configured(r.cfg); err != nil {
			r.deps.Log.Warn("driver enabled but not configured", zap.String("driver", v.Name), zap.Error(err))
			skipped = append(skipped, err)
			continue
		}
		d, err := v.New(r.cfg, r.deps)
		if err != nil {
			return nil, fmt.Errorf("transport: build %s driver: %w", v.Name, err)
		}
		r.deps.Log.Debug("driver selected", zap.String("driver", v.Name))
		return d, nil
	}
	if len(skipped) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrNoEnabledDriver, errors.Join(skipped...))
	}
	return nil, ErrNoEnabledDriver
}
