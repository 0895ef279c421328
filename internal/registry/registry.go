// Package registry is the plugin loader. The Python implementation
// discovers plugins at runtime via importlib, loading
// plugins/<name>.py and hunting its members for a class named
// QrexecProxyPlugin_<name>. Go has no equivalent of loading arbitrary
// code at runtime without cgo or a plugin.so build (both poor fits for a
// small, trust-sensitive CLI tool), so this proxy resolves the open
// question in spec.md in favor of compile-time registration: every
// filter package registers itself from an init() function, and the
// binary only ever runs plugins that were compiled into it. See
// DESIGN.md for the full resolution rationale.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/3hhh/qubes-qrexec-proxy/internal/plugin"
)

// ErrPluginLoad is returned by Resolve when no plugin is registered under
// the given name, or when it is registered under a different role than
// requested.
var ErrPluginLoad = errors.New("plugin load error")

type key struct {
	name string
	role plugin.Role
}

var (
	mu       sync.RWMutex
	registry = map[key]plugin.Constructor{}
)

// Register records a plugin constructor under name and role. Called from
// each filter package's init(). A plugin may register the same name under
// more than one role — the built-in "default" plugin does exactly this,
// providing both a Source and a Destination under one name, mirroring the
// Python implementation's QrexecSourcePlugin_default /
// QrexecDestinationPlugin_default pair. Panics on a duplicate (name, role)
// pair, since that can only happen due to a programming error at compile
// time, never from user input.
func Register(name string, role plugin.Role, constructor plugin.Constructor) {
	mu.Lock()
	defer mu.Unlock()
	k := key{name: name, role: role}
	if _, exists := registry[k]; exists {
		panic(fmt.Sprintf("registry: plugin %q already registered for role %s", name, role))
	}
	registry[k] = constructor
}

// Resolve looks up the constructor registered under name for the given
// role. A missing (name, role) pair produces ErrPluginLoad, wrapped with
// enough context for the session driver's error taxonomy.
func Resolve(name string, role plugin.Role) (plugin.Constructor, error) {
	mu.RLock()
	defer mu.RUnlock()

	constructor, ok := registry[key{name: name, role: role}]
	if !ok {
		return nil, fmt.Errorf("%w: no plugin registered under name %q for role %s", ErrPluginLoad, name, role)
	}
	return constructor, nil
}

// Names returns every registered plugin name, for diagnostics.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	seen := make(map[string]struct{}, len(registry))
	names := make([]string, 0, len(registry))
	for k := range registry {
		if _, ok := seen[k.name]; ok {
			continue
		}
		seen[k.name] = struct{}{}
		names = append(names, k.name)
	}
	return names
}
