// Package stopdst implements a convenience filter that allows
// communication only from the source toward the destination, discarding
// everything the destination tries to send back. Grounded on
// _examples/original_source/plugins/stop_dst.py, which is a byte_limit
// subclass with its limits hardcoded rather than user-configurable.
package stopdst

import (
	"github.com/3hhh/qubes-qrexec-proxy/internal/filters/bytelimit"
	"github.com/3hhh/qubes-qrexec-proxy/internal/logging"
	"github.com/3hhh/qubes-qrexec-proxy/internal/plugin"
	"github.com/3hhh/qubes-qrexec-proxy/internal/registry"
	"github.com/3hhh/qubes-qrexec-proxy/internal/session"
)

const Name = "stopdst"

func init() {
	registry.Register(Name, plugin.RoleFilter, construct)
}

// construct ignores any user-supplied config, exactly as the Python
// plugin does — stopdst's whole purpose is a fixed, non-configurable
// one-way policy.
func construct(logger *logging.Logger, meta session.Meta, _ map[string]any) (any, error) {
	return bytelimit.New(logger, -1, 0), nil
}
