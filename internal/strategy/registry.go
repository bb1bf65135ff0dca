// Package strategy holds the built-in trading strategies and the registry
// that maps configuration names to hook factories.
package strategy

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/openquant/botcore/internal/bot"
)

// Config is what a factory receives from the application wiring.
type Config struct {
	// BotName becomes the Settings name of the produced bot.
	BotName string
	Pairs   []string
	// Timeframe the bot subscribes to, e.g. "1m" or "1h".
	Timeframe    string
	PollInterval time.Duration
	// Params carries strategy-specific tuning as strings from the config
	// file, e.g. "fast_period" or "entry_z".
	Params map[string]string
	Logger *slog.Logger
}

// Factory builds a hooks implementation from configuration.
type Factory func(cfg Config) (bot.Hooks, error)

// Registry maps strategy names to factories. Safe for concurrent use.
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Defaults returns a Registry with the built-in strategies registered.
func Defaults() *Registry {
	r := NewRegistry()
	r.Register("mean_reversion", NewMeanReversion)
	r.Register("ema_cross", NewEMACross)
	return r
}

// Register adds a factory under name, replacing any existing entry.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Build instantiates the named strategy with cfg.
func (r *Registry) Build(name string, cfg Config) (bot.Hooks, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("strategy %q: not registered", name)
	}
	return f(cfg)
}

// List returns registered strategy names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
