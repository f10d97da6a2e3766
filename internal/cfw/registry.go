package cfw

import (
	"sort"
	"strings"
	"sync"
)

// PackageHandler is the shape every compiled-in control package exposes to
// the transaction manager (§4.5). mixerpkg.Package and ivrpkg.Package both
// satisfy this directly.
type PackageHandler interface {
	Name() string
	Version() string
	MIME() string
	Control(clientID string, body []byte) (statusCode int, respBody []byte, err error)
}

// Registry is the compiled-in package table (§4.5, §9 REDESIGN FLAG:
// typed plugin table registered at startup, no dynamic symbol loading).
// packagesPath from configuration is accepted only for interface
// compatibility — a compiled-in package of the same name always wins.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]PackageHandler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: map[string]PackageHandler{}}
}

// Register adds a package, compiled in at startup. Registering the same
// name twice replaces the earlier entry (last registration wins).
func (r *Registry) Register(p PackageHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[p.Name()] = p
}

// Lookup resolves a package by name.
func (r *Registry) Lookup(name string) (PackageHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byName[name]
	return p, ok
}

// Supported renders the comma-joined "name/version" list for a SYNC
// response's Supported: header (§4.4).
func (r *Registry) Supported() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for name, p := range r.byName {
		names = append(names, name+"/"+p.Version())
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

// Names returns every registered package name, for validating a SYNC
// request's requested Packages: list against what this core supports.
func (r *Registry) Names() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]bool, len(r.byName))
	for name := range r.byName {
		out[name] = true
	}
	return out
}
