package access

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Qualifier narrows a capability to resources the subject owns, or widens
// it to any resource of the entity.
type Qualifier string

const (
	QualifierAny Qualifier = "any"
	QualifierOwn Qualifier = "own"
)

// Capability is a structured permission name: an action applied to an
// entity under an ownership qualifier. It replaces string concatenation
// with a typed value while keeping the stored "can update own account"
// naming intact.
type Capability struct {
	Action    string
	Qualifier Qualifier
	Entity    string
}

// Name renders the capability in its canonical stored form.
func (c Capability) Name() string {
	return strings.Join([]string{"can", c.Action, string(c.Qualifier), c.Entity}, " ")
}

// ParseCapability parses a stored permission name back into its parts.
func ParseCapability(name string) (Capability, error) {
	parts := strings.Fields(name)
	if len(parts) != 4 || parts[0] != "can" {
		return Capability{}, fmt.Errorf("access: malformed permission name %q", name)
	}
	q := Qualifier(parts[2])
	if q != QualifierAny && q != QualifierOwn {
		return Capability{}, fmt.Errorf("access: unknown qualifier in %q", name)
	}
	return Capability{Action: parts[1], Qualifier: q, Entity: parts[3]}, nil
}

// Cross expands the action × entity product into capabilities for both
// qualifiers, mirroring how the permission catalog is seeded.
func Cross(actions []string, entities []string) []Capability {
	var caps []Capability
	for _, action := range actions {
		for _, entity := range entities {
			for _, q := range []Qualifier{QualifierAny, QualifierOwn} {
				caps = append(caps, Capability{Action: action, Qualifier: q, Entity: entity})
			}
		}
	}
	return caps
}

// Registry is the typed catalog of capability names known to the engine.
// It is populated once at startup; a name absent from the registry is
// simply denied, never an error.
type Registry struct {
	mu    sync.RWMutex
	names map[string]Capability
}

// NewRegistry returns an empty capability registry.
func NewRegistry() *Registry {
	return &Registry{names: make(map[string]Capability)}
}

// Register adds capabilities to the registry. Re-registering a name is a
// no-op, so entity declarations can overlap.
func (r *Registry) Register(caps ...Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range caps {
		r.names[c.Name()] = c
	}
}

// Known reports whether a permission name is registered.
func (r *Registry) Known(name string) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.names[name]
	return ok
}

// Names returns all registered permission names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.names))
	for name := range r.names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
