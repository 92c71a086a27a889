package pending

import (
	"fmt"
	"sync"

	"github.com/shortlink-org/correlation/command"
)

// Scope names the identity domain of the registry keys.
type Scope string

const (
	ScopeCommand Scope = "command"
	ScopeProcess Scope = "process"
)

type entry struct {
	mode   command.Mode
	handle *Handle
}

// Registry maps correlation keys to waiting handles.
type Registry struct {
	scope Scope

	mu      sync.Mutex
	entries map[string]entry
}

func NewRegistry(scope Scope) *Registry {
	return &Registry{
		scope:   scope,
		entries: make(map[string]entry),
	}
}

func (r *Registry) Scope() Scope {
	return r.scope
}

// Register adds a pending entry. It fails if key is already pending.
func (r *Registry) Register(key string, mode command.Mode, handle *Handle) error {
	switch {
	case key == "":
		return ErrEmptyKey
	case handle == nil:
		return ErrNilHandle
	case !mode.Valid():
		return fmt.Errorf("%w: %s", ErrInvalidMode, mode)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[key]; ok {
		return fmt.Errorf("%w: %s %q", ErrDuplicateRegistration, r.scope, key)
	}

	r.entries[key] = entry{mode: mode, handle: handle}

	return nil
}

// Resolve removes key and delivers result. It reports whether this call
// delivered; unknown keys are ignored.
func (r *Registry) Resolve(key string, result command.Result) bool {
	e, ok := r.take(key)
	if !ok {
		return false
	}

	return e.handle.TryResolve(result)
}

// ResolveWith resolves key only when decide accepts the entry's mode.
// The lookup, the decision and the removal happen under one lock.
func (r *Registry) ResolveWith(key string, decide func(command.Mode) (command.Result, bool)) (matched, resolved bool) {
	r.mu.Lock()

	e, ok := r.entries[key]
	if !ok {
		r.mu.Unlock()
		return false, false
	}

	result, accept := decide(e.mode)
	if !accept {
		r.mu.Unlock()
		return true, false
	}

	delete(r.entries, key)
	r.mu.Unlock()

	return true, e.handle.TryResolve(result)
}

// LookupMode returns the completion mode of a pending key.
func (r *Registry) LookupMode(key string) (command.Mode, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]

	return e.mode, ok
}

// Fail resolves key with a Failed result carrying reason.
func (r *Registry) Fail(key, reason string) bool {
	result := command.Failed(key, "", reason)
	if r.scope == ScopeProcess {
		result.CommandID = ""
		result.AggregateRootID = key
	}

	return r.Resolve(key, result)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.entries)
}

func (r *Registry) take(key string) (entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if ok {
		delete(r.entries, key)
	}

	return e, ok
}
