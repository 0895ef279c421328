// Package passthrough implements the reference filter that relays both
// directions of traffic unmodified. Grounded on
// _examples/original_source/plugins/pass.py — useful for debugging chain
// wiring only, never for anything that should actually constrain traffic.
package passthrough

import (
	"context"

	"github.com/3hhh/qubes-qrexec-proxy/internal/ioutil"
	"github.com/3hhh/qubes-qrexec-proxy/internal/logging"
	"github.com/3hhh/qubes-qrexec-proxy/internal/pipe"
	"github.com/3hhh/qubes-qrexec-proxy/internal/plugin"
	"github.com/3hhh/qubes-qrexec-proxy/internal/registry"
	"github.com/3hhh/qubes-qrexec-proxy/internal/session"
)

const Name = "passthrough"

func init() {
	registry.Register(Name, plugin.RoleFilter, construct)
}

func construct(logger *logging.Logger, meta session.Meta, config map[string]any) (any, error) {
	return &Filter{logger: logger}, nil
}

// Filter passes all data through, in both directions, unmodified.
type Filter struct {
	logger *logging.Logger
}

func (f *Filter) Proxy(ctx context.Context, srcR *pipe.Reader, srcW *pipe.Writer, dstR *pipe.Reader, dstW *pipe.Writer) error {
	errs := make(chan error, 2)
	go func() {
		_, err := ioutil.Copy(ctx, srcR, dstW, -1, true)
		errs <- err
	}()
	go func() {
		_, err := ioutil.Copy(ctx, dstR, srcW, -1, true)
		errs <- err
	}()

	var first error
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil && first == nil {
			first = err
		}
	}
	return first
}
