package exchange

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/GoPolymarket/feedgate/internal/config"
)

// Constructor builds a client for one exchange.
type Constructor func(s Settings) (Exchange, error)

// Builtins maps exchange ids to the constructors shipped with feedgate.
var Builtins = map[string]Constructor{
	"binance": NewBinance,
	"kraken":  NewKraken,
	"mock":    NewMock,
}

type entry struct {
	ctor     Constructor
	settings Settings
}

// Registry resolves exchange ids to constructors.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// FromConfig registers every enabled builtin exchange named in cfgs.
func FromConfig(cfgs map[string]config.ExchangeConfig) (*Registry, error) {
	r := NewRegistry()
	for id, c := range cfgs {
		if !c.Enabled {
			continue
		}
		ctor, ok := Builtins[strings.ToLower(id)]
		if !ok {
			return nil, fmt.Errorf("exchanges.%s: %w", id, ErrUnsupportedExchange)
		}
		err := r.Register(id, ctor, Settings{
			BaseURL:    c.BaseURL,
			Timeout:    c.Timeout,
			RatePerSec: c.RatePerSec,
			Burst:      c.Burst,
		})
		if err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(id string, ctor Constructor, s Settings) error {
	id = strings.ToLower(strings.TrimSpace(id))
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[id]; exists {
		return fmt.Errorf("exchange constructor already registered for id: %s", id)
	}
	r.entries[id] = entry{ctor: ctor, settings: s}
	return nil
}

// New constructs a fresh client for id along with its settings.
func (r *Registry) New(id string) (Exchange, Settings, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil, Settings{}, fmt.Errorf("%w: %s", ErrUnsupportedExchange, id)
	}
	ex, err := e.ctor(e.settings)
	if err != nil {
		return nil, Settings{}, fmt.Errorf("init %s: %w", id, err)
	}
	return ex, e.settings, nil
}

func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[id]
	return ok
}

// IDs returns the registered ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}
