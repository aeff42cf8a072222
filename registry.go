package queue

import (
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
)

// Factory reconstructs a Job from its serialized form. The raw message is the
// flat object produced by the codec, including the "type" field, passed
// verbatim.
type Factory func(raw json.RawMessage) (Job, error)

// Registry maps a job's type tag to the Factory that reconstructs it. Any
// driver that persists jobs outside the process (file, redis) needs a Registry
// to turn stored bytes back into runnable jobs.
//
// A Registry is an explicit object owned by the composition root, not a hidden
// global. Register every persisted job type at application startup, before any
// worker starts dequeuing; looking up an unregistered tag is a hard failure.
// Registry is safe for concurrent use.
type Registry struct {
	rwLock    sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register binds a type tag to a factory. Registering the same tag twice
// replaces the previous factory.
func (r *Registry) Register(typeTag string, factory Factory) {
	r.rwLock.Lock()
	defer r.rwLock.Unlock()
	r.factories[typeTag] = factory
}

// Has reports whether a factory is registered for the tag.
func (r *Registry) Has(typeTag string) bool {
	r.rwLock.RLock()
	defer r.rwLock.RUnlock()
	_, ok := r.factories[typeTag]
	return ok
}

// Reconstruct rebuilds a Job from its serialized form. It returns
// ErrUnregisteredJobType if the tag has no factory, and wraps
// ErrJobDeserialization if the factory rejects the payload.
func (r *Registry) Reconstruct(typeTag string, raw json.RawMessage) (Job, error) {
	r.rwLock.RLock()
	factory, ok := r.factories[typeTag]
	r.rwLock.RUnlock()

	if !ok {
		return nil, errors.Wrapf(ErrUnregisteredJobType, "no factory for %q", typeTag)
	}
	job, err := factory(raw)
	if err != nil {
		return nil, errors.Wrapf(ErrJobDeserialization, "factory for %q: %s", typeTag, err)
	}
	return job, nil
}

// Clear removes all registered factories. Test teardown only.
func (r *Registry) Clear() {
	r.rwLock.Lock()
	defer r.rwLock.Unlock()
	r.factories = make(map[string]Factory)
}
