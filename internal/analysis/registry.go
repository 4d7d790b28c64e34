package analysis

import (
	"fmt"

	"prism/internal/types"
)

// Registry holds the analysis services available to a run and derives their
// execution order from the dependency declarations each service carries.
// Order is a data property of the registered graph, never an accident of
// which call happens to appear first in orchestration code.
type Registry struct {
	services map[types.ServiceType]Service
	// registered preserves registration order so topological ties break
	// deterministically.
	registered []types.ServiceType
}

// NewRegistry creates an empty service registry.
func NewRegistry() *Registry {
	return &Registry{
		services: make(map[types.ServiceType]Service),
	}
}

// NewDefaultRegistry returns a registry holding the four built-in services,
// all backed by the given completer.
func NewDefaultRegistry(client Completer) (*Registry, error) {
	r := NewRegistry()
	for _, svc := range []Service{
		NewClassifyService(client),
		NewEntitiesService(client),
		NewAssessService(client),
		NewSummarizeService(client),
	} {
		if err := r.Register(svc); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a service to the registry
func (r *Registry) Register(svc Service) error {
	if svc == nil {
		return fmt.Errorf("service cannot be nil")
	}
	t := svc.Type()
	if !t.IsValid() {
		return fmt.Errorf("service has unknown type %q", t)
	}
	if _, exists := r.services[t]; exists {
		return fmt.Errorf("service %s already registered", t)
	}
	for _, dep := range svc.Dependencies() {
		if dep == t {
			return fmt.Errorf("service %s declares itself as a dependency", t)
		}
		if !dep.IsValid() {
			return fmt.Errorf("service %s declares unknown dependency %q", t, dep)
		}
	}

	r.services[t] = svc
	r.registered = append(r.registered, t)
	return nil
}

// Get returns a registered service by type
func (r *Registry) Get(t types.ServiceType) (Service, bool) {
	svc, ok := r.services[t]
	return svc, ok
}

// Types returns the registered service types in registration order.
func (r *Registry) Types() []types.ServiceType {
	out := make([]types.ServiceType, len(r.registered))
	copy(out, r.registered)
	return out
}

// DependencyOrder returns every registered service type topologically sorted
// by the declared dependency graph. Ties break by registration order, so the
// result is deterministic for a given registry. Dependencies on unregistered
// services impose no ordering: the dependent simply runs without that
// evidence. Returns an error if the declarations form a cycle.
func (r *Registry) DependencyOrder() ([]types.ServiceType, error) {
	// Kahn's algorithm over the registered subgraph, always picking the
	// earliest-registered ready node.
	pending := make(map[types.ServiceType]int, len(r.registered))
	for _, t := range r.registered {
		count := 0
		for _, dep := range r.services[t].Dependencies() {
			if _, ok := r.services[dep]; ok {
				count++
			}
		}
		pending[t] = count
	}

	order := make([]types.ServiceType, 0, len(r.registered))
	done := make(map[types.ServiceType]bool, len(r.registered))
	for len(order) < len(r.registered) {
		progressed := false
		for _, t := range r.registered {
			if done[t] || pending[t] != 0 {
				continue
			}
			order = append(order, t)
			done[t] = true
			progressed = true
			for _, other := range r.registered {
				if done[other] {
					continue
				}
				for _, dep := range r.services[other].Dependencies() {
					if dep == t {
						pending[other]--
					}
				}
			}
			break
		}
		if !progressed {
			remaining := make([]types.ServiceType, 0)
			for _, t := range r.registered {
				if !done[t] {
					remaining = append(remaining, t)
				}
			}
			return nil, fmt.Errorf("service dependency cycle involving %v", remaining)
		}
	}
	return order, nil
}

// OrderedSubset returns the members of selected in dependency order. Selected
// types that are not registered are rejected.
func (r *Registry) OrderedSubset(selected map[types.ServiceType]bool) ([]types.ServiceType, error) {
	for t := range selected {
		if _, ok := r.services[t]; !ok {
			return nil, fmt.Errorf("service %s is not registered", t)
		}
	}
	order, err := r.DependencyOrder()
	if err != nil {
		return nil, err
	}
	out := make([]types.ServiceType, 0, len(selected))
	for _, t := range order {
		if selected[t] {
			out = append(out, t)
		}
	}
	return out, nil
}
