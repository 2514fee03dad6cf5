package provider

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"chatrelay/internal/transport"
)

// Constructor builds an adapter from its settings.
type Constructor func(settings Settings, client transport.Client) Provider

// Registry maps provider names to adapter instances. Adapters are created on
// first use and cached; later Create calls for the same name return the
// cached instance.
type Registry struct {
	mu           sync.RWMutex
	client       transport.Client
	constructors map[Kind]Constructor
	byName       map[string]Provider
}

// NewRegistry constructs an empty registry. constructors is the static table
// from vendor kind to adapter constructor.
func NewRegistry(client transport.Client, constructors map[Kind]Constructor) *Registry {
	table := make(map[Kind]Constructor, len(constructors))
	for k, c := range constructors {
		table[k] = c
	}
	return &Registry{
		client:       client,
		constructors: table,
		byName:       make(map[string]Provider),
	}
}

// Create returns the adapter registered under name, constructing it with
// apiKey and settings when none exists yet.
func (r *Registry) Create(name, apiKey string, settings Settings) (Provider, error) {
	key := normalise(name)

	r.mu.RLock()
	p, ok := r.byName[key]
	r.mu.RUnlock()
	if ok {
		return p, nil
	}

	kind, err := ParseKind(key)
	if err != nil {
		return nil, err
	}
	construct, ok := r.constructors[kind]
	if !ok {
		return nil, fmt.Errorf("%w: no adapter for %q", ErrUnknownProvider, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.byName[key]; ok {
		return p, nil
	}

	settings.APIKey = apiKey
	p = construct(settings, r.client)
	r.byName[key] = p
	return p, nil
}

// Register stores p under name, replacing any cached instance.
func (r *Registry) Register(name string, p Provider) error {
	if p == nil {
		return errors.New("provider must not be nil")
	}
	key := normalise(name)
	if key == "" {
		return errors.New("provider name must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[key] = p
	return nil
}

// Lookup returns the adapter registered under name.
func (r *Registry) Lookup(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.byName[normalise(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}

// Names returns the registered names in display order: the built-in vendors
// first, then any custom registrations alphabetically.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.byName))
	for _, k := range Kinds() {
		if _, ok := r.byName[string(k)]; ok {
			names = append(names, string(k))
		}
	}
	var custom []string
	for name := range r.byName {
		if _, err := ParseKind(name); err != nil {
			custom = append(custom, name)
		}
	}
	slices.Sort(custom)
	return append(names, custom...)
}

func normalise(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
