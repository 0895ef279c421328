// Package session ties invocation parsing, chain configuration, plugin
// resolution, and the pipeline engine together into the single call a
// qrexec-proxy process makes once per RPC invocation. It is the Go
// equivalent of qrexec-proxy.py's main(): parse argv, load the chain's
// plugin list, resolve each name through the loader, wire the pipeline,
// run it, and map whatever comes back to an exit code.
package session

import (
	"context"
	"fmt"

	"github.com/3hhh/qubes-qrexec-proxy/internal/config"
	"github.com/3hhh/qubes-qrexec-proxy/internal/engine"
	"github.com/3hhh/qubes-qrexec-proxy/internal/logging"
	"github.com/3hhh/qubes-qrexec-proxy/internal/plugin"
	"github.com/3hhh/qubes-qrexec-proxy/internal/registry"
	"github.com/3hhh/qubes-qrexec-proxy/internal/shared/id"
	"go.uber.org/zap"
)

// defaultPluginName is the built-in Source/Destination pair used whenever
// a chain doesn't claim one of its own end-slots — see
// internal/filters/defaultio.
const defaultPluginName = "default"

// Run resolves chain's plugin list against the compile-time registry,
// applies spec.md §4.4's end-slot resolution policy, builds the
// pipeline, and runs it to completion.
//
// End-slot resolution: if the first listed plugin resolves as a Source,
// it's consumed from the filter list in place of the built-in default;
// symmetrically for the last listed plugin and the Destination slot. A
// plugin list of length 1 can supply at most one end-slot this way — the
// other still falls back to the default. Everything left in the middle
// must resolve as a Filter, fatally if it doesn't.
func Run(ctx context.Context, logger *logging.Logger, meta Meta, chain config.Chain) error {
	sessionID := id.NewSessionID()
	logger = logger.With(zap.String("session_id", sessionID.String()))

	pipeline, err := build(logger, meta, chain)
	if err != nil {
		return err
	}
	return pipeline.Run(ctx)
}

func build(logger *logging.Logger, meta Meta, chain config.Chain) (*engine.Pipeline, error) {
	names := chain.Plugins
	remaining := make([]int, len(names))
	for i := range names {
		remaining[i] = i
	}

	source, sourceName, err := resolveSource(logger, meta, chain, names, &remaining)
	if err != nil {
		return nil, err
	}

	destination, destName, err := resolveDestination(logger, meta, chain, names, &remaining)
	if err != nil {
		return nil, err
	}

	filters := make([]engine.FilterSpec, 0, len(remaining))
	for _, idx := range remaining {
		spec, err := resolveFilter(logger, meta, chain, names, idx)
		if err != nil {
			return nil, err
		}
		filters = append(filters, spec)
	}

	logger.Info("chain resolved",
		zap.String("chain", meta.Chain),
		zap.String("source", sourceName),
		zap.String("destination", destName),
		zap.Int("filters", len(filters)),
	)

	return engine.Build(source, filters, destination)
}

func resolveSource(logger *logging.Logger, meta Meta, chain config.Chain, names []string, remaining *[]int) (plugin.Source, string, error) {
	if len(*remaining) > 0 {
		idx := (*remaining)[0]
		if ctor, err := registry.Resolve(names[idx], plugin.RoleSource); err == nil {
			instance, cerr := construct(ctor, logger, meta, chain, idx, names[idx])
			if cerr != nil {
				return nil, "", cerr
			}
			src, ok := instance.(plugin.Source)
			if !ok {
				return nil, "", &InternalError{Cause: fmt.Errorf("plugin %q constructed a value that doesn't implement Source", names[idx])}
			}
			*remaining = (*remaining)[1:]
			return src, names[idx], nil
		}
	}

	ctor, err := registry.Resolve(defaultPluginName, plugin.RoleSource)
	if err != nil {
		return nil, "", &PluginLoadError{Chain: meta.Chain, Plugin: defaultPluginName, Cause: err}
	}
	instance, err := construct(ctor, logger, meta, chain, -1, defaultPluginName)
	if err != nil {
		return nil, "", err
	}
	src, ok := instance.(plugin.Source)
	if !ok {
		return nil, "", &InternalError{Cause: fmt.Errorf("default plugin constructed a value that doesn't implement Source")}
	}
	return src, defaultPluginName, nil
}

func resolveDestination(logger *logging.Logger, meta Meta, chain config.Chain, names []string, remaining *[]int) (plugin.Destination, string, error) {
	if len(*remaining) > 0 {
		last := len(*remaining) - 1
		idx := (*remaining)[last]
		if ctor, err := registry.Resolve(names[idx], plugin.RoleDestination); err == nil {
			instance, cerr := construct(ctor, logger, meta, chain, idx, names[idx])
			if cerr != nil {
				return nil, "", cerr
			}
			dst, ok := instance.(plugin.Destination)
			if !ok {
				return nil, "", &InternalError{Cause: fmt.Errorf("plugin %q constructed a value that doesn't implement Destination", names[idx])}
			}
			*remaining = (*remaining)[:last]
			return dst, names[idx], nil
		}
	}

	ctor, err := registry.Resolve(defaultPluginName, plugin.RoleDestination)
	if err != nil {
		return nil, "", &PluginLoadError{Chain: meta.Chain, Plugin: defaultPluginName, Cause: err}
	}
	instance, err := construct(ctor, logger, meta, chain, -1, defaultPluginName)
	if err != nil {
		return nil, "", err
	}
	dst, ok := instance.(plugin.Destination)
	if !ok {
		return nil, "", &InternalError{Cause: fmt.Errorf("default plugin constructed a value that doesn't implement Destination")}
	}
	return dst, defaultPluginName, nil
}

func resolveFilter(logger *logging.Logger, meta Meta, chain config.Chain, names []string, idx int) (engine.FilterSpec, error) {
	name := names[idx]
	ctor, err := registry.Resolve(name, plugin.RoleFilter)
	if err != nil {
		return engine.FilterSpec{}, &PluginLoadError{Chain: meta.Chain, Plugin: name, Cause: err}
	}

	instance, err := construct(ctor, logger, meta, chain, idx, name)
	if err != nil {
		return engine.FilterSpec{}, err
	}
	f, ok := instance.(plugin.Filter)
	if !ok {
		return engine.FilterSpec{}, &InternalError{Cause: fmt.Errorf("plugin %q constructed a value that doesn't implement Filter", name)}
	}

	return engine.FilterSpec{Name: fmt.Sprintf("%s_%s_%d", meta.Chain, name, idx), Instance: f}, nil
}

func construct(ctor plugin.Constructor, logger *logging.Logger, meta Meta, chain config.Chain, idx int, name string) (any, error) {
	var pconf map[string]any
	if idx >= 0 {
		pconf = chain.PluginConfig(idx, name)
	}

	lname := fmt.Sprintf("%s_%s", meta.Chain, name)
	if idx >= 0 {
		lname = fmt.Sprintf("%s_%d", lname, idx)
	}

	stageLogger := logger.Named(lname).With(zap.String("stage_id", id.NewStageID().String()))
	instance, err := ctor(stageLogger, meta, pconf)
	if err != nil {
		return nil, &PluginLoadError{Chain: meta.Chain, Plugin: name, Cause: err}
	}
	return instance, nil
}
