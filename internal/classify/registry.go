package classify

import (
	"errors"
	"fmt"
	"sync"
)

// Classifier binds a model to its kind and tag adapter.
type Classifier struct {
	Kind    Kind
	Model   Model
	Adapter Adapter
}

// Registry is the explicit set of classifiers available to the pipeline.
// Only registered kinds are fanned out and drained.
type Registry struct {
	mu          sync.RWMutex
	classifiers map[Kind]Classifier
}

// NewRegistry returns a registry holding classifiers. It panics on an
// invalid classifier, which only happens with a programming error.
func NewRegistry(classifiers ...Classifier) *Registry {
	r := &Registry{classifiers: make(map[Kind]Classifier, len(classifiers))}
	for _, c := range classifiers {
		if err := r.Register(c); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds or replaces the classifier for its kind.
func (r *Registry) Register(c Classifier) error {
	kind, err := ParseKind(string(c.Kind))
	if err != nil {
		return err
	}
	if c.Model == nil {
		return fmt.Errorf("register %s classifier: %w", kind, errors.New("model is required"))
	}
	c.Kind = kind
	if c.Adapter == nil {
		c.Adapter = DefaultAdapter(kind)
	}
	r.mu.Lock()
	r.classifiers[kind] = c
	r.mu.Unlock()
	return nil
}

// Lookup returns the classifier for kind.
func (r *Registry) Lookup(kind Kind) (Classifier, bool) {
	if r == nil {
		return Classifier{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.classifiers[kind]
	return c, ok
}

// Has reports whether kind is registered.
func (r *Registry) Has(kind Kind) bool {
	_, ok := r.Lookup(kind)
	return ok
}

// Kinds returns the registered kinds in canonical order.
func (r *Registry) Kinds() []Kind {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]Kind, 0, len(r.classifiers))
	for _, kind := range canonicalKinds {
		if _, ok := r.classifiers[kind]; ok {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}
