// Package bytelimit implements the reference filter that caps how many
// bytes may cross in each direction, discarding anything beyond the
// limit instead of blocking the sender. Grounded on
// _examples/original_source/plugins/byte_limit.py.
package bytelimit

import (
	"context"
	"fmt"

	"github.com/3hhh/qubes-qrexec-proxy/internal/ioutil"
	"github.com/3hhh/qubes-qrexec-proxy/internal/logging"
	"github.com/3hhh/qubes-qrexec-proxy/internal/pipe"
	"github.com/3hhh/qubes-qrexec-proxy/internal/plugin"
	"github.com/3hhh/qubes-qrexec-proxy/internal/registry"
	"github.com/3hhh/qubes-qrexec-proxy/internal/session"
)

const Name = "bytelimit"

func init() {
	registry.Register(Name, plugin.RoleFilter, construct)
}

func construct(logger *logging.Logger, meta session.Meta, config map[string]any) (any, error) {
	src2dst, err := intParam(config, "src2dst_limit")
	if err != nil {
		return nil, err
	}
	dst2src, err := intParam(config, "dst2src_limit")
	if err != nil {
		return nil, err
	}
	return &Filter{logger: logger, src2dst: src2dst, dst2src: dst2src}, nil
}

// Filter caps the number of bytes that may flow in each direction; -1
// means unlimited. Additional data beyond the limit is read and
// discarded rather than left to block the sender indefinitely.
type Filter struct {
	logger  *logging.Logger
	src2dst int64
	dst2src int64
}

// New builds a Filter directly with fixed limits, for use by filters
// (e.g. stopdst) that wrap bytelimit with a non-configurable policy.
func New(logger *logging.Logger, src2dst, dst2src int64) *Filter {
	return &Filter{logger: logger, src2dst: src2dst, dst2src: dst2src}
}

func (f *Filter) Proxy(ctx context.Context, srcR *pipe.Reader, srcW *pipe.Writer, dstR *pipe.Reader, dstW *pipe.Writer) error {
	errs := make(chan error, 2)
	go func() { errs <- connectThenDiscard(ctx, srcR, dstW, f.src2dst) }()
	go func() { errs <- connectThenDiscard(ctx, dstR, srcW, f.dst2src) }()

	var first error
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil && first == nil {
			first = err
		}
	}
	return first
}

// connectThenDiscard copies up to limit bytes from src to dst, closes
// dst, then drains and closes whatever remains unread on src — so the
// sender on the other end of src never blocks on a full pipe once its
// quota is exhausted.
func connectThenDiscard(ctx context.Context, src *pipe.Reader, dst *pipe.Writer, limit int64) error {
	if _, err := ioutil.Copy(ctx, src, dst, limit, false); err != nil {
		dst.Close()
		ioutil.Discard(ctx, src, true)
		return err
	}
	dst.Close()
	return ioutil.Discard(ctx, src, true)
}

func intParam(config map[string]any, key string) (int64, error) {
	v, ok := config[key]
	if !ok {
		return 0, fmt.Errorf("bytelimit: missing required config parameter %q", key)
	}
	switch n := v.(type) {
	case float64:
		return int64(n), nil
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	default:
		return 0, fmt.Errorf("bytelimit: config parameter %q has unsupported type %T", key, v)
	}
}
