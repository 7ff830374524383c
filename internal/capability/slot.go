// Package capability models optional external subsystems a pipeline step may
// delegate to. A Slot is resolved once at startup and never changes; steps
// must branch on Lookup before calling the provider.
package capability

import (
	"context"
	"sort"
)

// Provider is the single operation a bound capability exposes.
type Provider interface {
	Process(ctx context.Context, unitRef string) error
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, unitRef string) error

func (f ProviderFunc) Process(ctx context.Context, unitRef string) error { return f(ctx, unitRef) }

// Slot is either Bound (holds a provider) or Unbound.
type Slot struct {
	name     string
	provider Provider
}

func Bound(name string, p Provider) Slot {
	return Slot{name: name, provider: p}
}

func Unbound(name string) Slot {
	return Slot{name: name}
}

func (s Slot) Name() string { return s.name }

func (s Slot) Lookup() (Provider, bool) {
	return s.provider, s.provider != nil
}

// Bindings is the immutable set of slots of the process.
type Bindings struct {
	slots map[string]Slot
}

func NewBindings(slots ...Slot) *Bindings {
	b := &Bindings{slots: make(map[string]Slot, len(slots))}
	for _, s := range slots {
		b.slots[s.name] = s
	}
	return b
}

// Slot returns the named slot; unknown names yield an Unbound slot.
func (b *Bindings) Slot(name string) Slot {
	if b == nil {
		return Unbound(name)
	}
	if s, ok := b.slots[name]; ok {
		return s
	}
	return Unbound(name)
}

// Bound returns the names of bound slots, sorted.
func (b *Bindings) Bound() []string {
	if b == nil {
		return nil
	}
	var out []string
	for name, s := range b.slots {
		if _, ok := s.Lookup(); ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
