package speech

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/harunnryd/rehearsal/pkg/errorsx"
)

// Registry keeps speech providers by name.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[normalizeName(p.Name())] = p
}

// Names lists the registered providers.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.providers))
	for name := range r.providers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Probe returns the first provider in names that is registered and available.
// The boolean is false when none is, meaning recognition is unsupported on this host.
func (r *Registry) Probe(names ...string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range names {
		p, ok := r.providers[normalizeName(name)]
		if !ok {
			continue
		}
		if p.Available() {
			return p, true
		}
	}
	return nil, false
}

// ErrUnsupported is returned when no configured provider is available.
func ErrUnsupported(names []string) error {
	return errorsx.New(errorsx.ReasonCapabilityUnsupported,
		fmt.Sprintf("speech recognition unavailable (tried: %s)", strings.Join(names, ", ")))
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
