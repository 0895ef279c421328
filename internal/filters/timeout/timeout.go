// Package timeout implements the reference filter that ends a connection
// once a per-direction time limit is reached. Grounded on
// _examples/original_source/plugins/timeout.py.
package timeout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/3hhh/qubes-qrexec-proxy/internal/ioutil"
	"github.com/3hhh/qubes-qrexec-proxy/internal/logging"
	"github.com/3hhh/qubes-qrexec-proxy/internal/pipe"
	"github.com/3hhh/qubes-qrexec-proxy/internal/plugin"
	"github.com/3hhh/qubes-qrexec-proxy/internal/registry"
	"github.com/3hhh/qubes-qrexec-proxy/internal/session"
)

const Name = "timeout"

func init() {
	registry.Register(Name, plugin.RoleFilter, construct)
}

func construct(logger *logging.Logger, meta session.Meta, config map[string]any) (any, error) {
	src2dst, err := durationParam(config, "src2dst_timeout")
	if err != nil {
		return nil, err
	}
	dst2src, err := durationParam(config, "dst2src_timeout")
	if err != nil {
		return nil, err
	}
	return &Filter{logger: logger, chain: meta.Chain, src2dst: src2dst, dst2src: dst2src}, nil
}

// Filter applies an independent deadline to each direction. A deadline of
// 0 means no limit, matching the Python plugin's `-1 = infinite`
// convention (translated here to "zero Duration disables the timeout"
// since Go's context.WithTimeout has no sentinel for "no deadline").
type Filter struct {
	logger  *logging.Logger
	chain   string
	src2dst time.Duration
	dst2src time.Duration
}

func (f *Filter) Proxy(ctx context.Context, srcR *pipe.Reader, srcW *pipe.Writer, dstR *pipe.Reader, dstW *pipe.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make(chan error, 2)
	go func() { errs <- f.connect(ctx, srcR, dstW, f.src2dst) }()
	go func() { errs <- f.connect(ctx, dstR, srcW, f.dst2src) }()

	var first error
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil && first == nil {
			first = err
			// Stop the other direction so an expired deadline ends the
			// stage now rather than when the other side closes.
			cancel()
		}
	}
	return first
}

func (f *Filter) connect(ctx context.Context, r *pipe.Reader, w *pipe.Writer, limit time.Duration) error {
	dctx := ctx
	bounded := limit > 0
	if bounded {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, limit)
		defer cancel()
	}

	_, err := ioutil.Copy(dctx, r, w, -1, true)
	if bounded && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return &session.TimeoutError{Chain: f.chain, Cause: err}
	}
	return err
}

func durationParam(config map[string]any, key string) (time.Duration, error) {
	v, ok := config[key]
	if !ok {
		return 0, fmt.Errorf("timeout: missing required config parameter %q", key)
	}
	var seconds float64
	switch n := v.(type) {
	case float64:
		seconds = n
	case int:
		seconds = float64(n)
	default:
		return 0, fmt.Errorf("timeout: config parameter %q has unsupported type %T", key, v)
	}
	if seconds < 0 {
		return 0, nil
	}
	return time.Duration(seconds * float64(time.Second)), nil
}
