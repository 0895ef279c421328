// Package plugin defines the contract every qrexec-proxy stage implements:
// exactly one of the three roles below, constructed once and driven by
// the engine for the lifetime of a session.
//
// This mirrors the Python implementation's QrexecProxyPlugin /
// QrexecSourcePlugin / QrexecDestinationPlugin abstract base classes —
// the one safety clause that survives unchanged from that design: only
// the Source stage may ever write to the external source-VM channel, and
// only the payload bytes it relays there, never a log line or error
// string.
package plugin

import (
	"context"

	"github.com/3hhh/qubes-qrexec-proxy/internal/logging"
	"github.com/3hhh/qubes-qrexec-proxy/internal/pipe"
)

// Meta is the immutable metadata describing one proxy invocation: the
// selected chain, the qrexec source/destination VMs, and the RPC call
// name. It lives here rather than in internal/session so that package —
// which drives resolution and therefore needs to import this one — isn't
// forced into an import cycle; internal/session.Meta is a type alias of
// this type, so callers never need to know the split exists.
type Meta struct {
	Chain string
	Src   string
	Dst   string
	Call  string
}

// Role identifies which of the three stage contracts a plugin implements.
type Role int

const (
	RoleSource Role = iota
	RoleFilter
	RoleDestination
)

// String renders the role for log lines and error messages.
func (r Role) String() string {
	switch r {
	case RoleSource:
		return "source"
	case RoleFilter:
		return "filter"
	case RoleDestination:
		return "destination"
	default:
		return "unknown"
	}
}

// Source bridges the external source VM's qrexec channel to the chain.
// dstR is the reverse-direction pipe carrying bytes back from the chain
// to stdout; srcW is the forward-direction pipe carrying stdin into the
// chain. communicate_src's Go equivalent.
type Source interface {
	CommunicateSrc(ctx context.Context, dstR *pipe.Reader, srcW *pipe.Writer) error
}

// Destination bridges the last pipe pair in the chain to the external
// destination VM's qrexec channel. communicate_dst's Go equivalent.
type Destination interface {
	CommunicateDst(ctx context.Context, dstR *pipe.Reader, dstW *pipe.Writer) error
}

// Filter sits between two pipe pairs, relaying, inspecting, or otherwise
// transforming the byte stream flowing in both directions. proxy()'s Go
// equivalent.
type Filter interface {
	Proxy(ctx context.Context, srcR *pipe.Reader, srcW *pipe.Writer, dstR *pipe.Reader, dstW *pipe.Writer) error
}

// Constructor builds a stage instance given a logger scoped to it, the
// session metadata, and its user-supplied configuration. It returns `any`
// because the concrete result must satisfy exactly one of Source, Filter,
// or Destination depending on the Role it was registered under. The
// registry's Resolve only returns the Constructor; the session driver
// type-asserts the constructed value after calling it.
type Constructor func(logger *logging.Logger, meta Meta, config map[string]any) (any, error)
