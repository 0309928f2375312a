package kit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrNoKit is returned by Current outside module loading.
	ErrNoKit = errors.New("no kit is loading modules")

	// ErrModuleNotFound is returned when the configuration names a module
	// that was never registered.
	ErrModuleNotFound = errors.New("module not found")
)

// Module is a unit of project code: models, routes and tasks registered
// against the kit when the module is loaded.
type Module interface {
	Load(ctx context.Context, k *Kit) error
}

// ModuleFunc adapts a function to Module.
type ModuleFunc func(ctx context.Context, k *Kit) error

// Load calls f.
func (f ModuleFunc) Load(ctx context.Context, k *Kit) error { return f(ctx, k) }

var (
	modulesMu sync.RWMutex
	modules   = make(map[string]Module)
)

// Register makes a module available under name. It is meant to be called
// from the init function of the module's package, and panics if name is
// registered twice or m is nil.
func Register(name string, m Module) {
	modulesMu.Lock()
	defer modulesMu.Unlock()
	if m == nil {
		panic("kit: Register module is nil")
	}
	if _, dup := modules[name]; dup {
		panic("kit: Register called twice for module " + name)
	}
	modules[name] = m
}

// RegisterFunc registers fn as a module.
func RegisterFunc(name string, fn func(ctx context.Context, k *Kit) error) {
	Register(name, ModuleFunc(fn))
}

// Modules returns the sorted names of the registered modules.
func Modules() []string {
	modulesMu.RLock()
	defer modulesMu.RUnlock()
	names := make([]string, 0, len(modules))
	for name := range modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookupModule(name string) (Module, error) {
	modulesMu.RLock()
	defer modulesMu.RUnlock()
	m, ok := modules[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, name)
	}
	return m, nil
}

// unregister is used by tests.
func unregister(name string) {
	modulesMu.Lock()
	defer modulesMu.Unlock()
	delete(modules, name)
}

var (
	stackMu sync.Mutex
	stack   []*Kit
)

// Current returns the kit loading modules, so that code running during
// loading can reach it without a reference. It returns ErrNoKit outside
// loading.
func Current() (*Kit, error) {
	stackMu.Lock()
	defer stackMu.Unlock()
	if len(stack) == 0 {
		return nil, ErrNoKit
	}
	return stack[len(stack)-1], nil
}

func push(k *Kit) {
	stackMu.Lock()
	stack = append(stack, k)
	stackMu.Unlock()
}

func pop() {
	stackMu.Lock()
	stack = stack[:len(stack)-1]
	stackMu.Unlock()
}
