package access

import (
	"gatehouse.org/internal/obs"
)

// Gate answers capability queries for a single subject. It closes over
// the permission set resolved at bind time and is valid only for the
// lifetime of that bind; role changes take effect on the next
// BindSubject call, never through a cached gate.
type Gate struct {
	subjectID string
	admin     bool
	registry  *Registry
	perms     map[string]struct{}
	narrowed  map[string]struct{} // nil when the principal is not scope-narrowed
}

// NewGate constructs a gate over an already-resolved permission set.
// A nil narrowed slice means no scope narrowing; an empty non-nil slice
// narrows to nothing.
func NewGate(subjectID string, admin bool, registry *Registry, perms []string, narrowed []string) *Gate {
	g := &Gate{
		subjectID: subjectID,
		admin:     admin,
		registry:  registry,
		perms:     make(map[string]struct{}, len(perms)),
	}
	for _, name := range perms {
		g.perms[name] = struct{}{}
	}
	if narrowed != nil {
		g.narrowed = make(map[string]struct{}, len(narrowed))
		for _, name := range narrowed {
			g.narrowed[name] = struct{}{}
		}
	}
	return g
}

// SubjectID returns the bound subject, or "" for an anonymous gate.
func (g *Gate) SubjectID() string {
	return g.subjectID
}

// Can reports whether the subject may perform action on the entity. The
// "any" variant of the capability is checked first; failing that, the
// "own" variant applies only when ownerID matches the bound subject.
// A missing permission name is a deny, never an error.
func (g *Gate) Can(action, entity, ownerID string) bool {
	allowed := g.can(action, entity, ownerID)
	obs.GateDecision(allowed)
	return allowed
}

func (g *Gate) can(action, entity, ownerID string) bool {
	anyName := Capability{Action: action, Qualifier: QualifierAny, Entity: entity}.Name()
	if g.Holds(anyName) {
		return true
	}
	if ownerID == "" || ownerID != g.subjectID {
		return false
	}
	ownName := Capability{Action: action, Qualifier: QualifierOwn, Entity: entity}.Name()
	return g.Holds(ownName)
}

// Holds checks a single permission name against the effective set.
// Scope narrowing intersects everything, including the administrative
// bypass: an administrative subject acting under a narrowed token holds
// exactly the scope's permissions and nothing more.
func (g *Gate) Holds(name string) bool {
	if g.narrowed != nil {
		if _, ok := g.narrowed[name]; !ok {
			return false
		}
	}
	if g.admin {
		return true
	}
	if g.registry != nil && !g.registry.Known(name) {
		return false
	}
	_, ok := g.perms[name]
	return ok
}
