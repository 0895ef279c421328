// Package sniff implements the reference filter that passively logs all
// traffic passing through it without altering a single byte. Grounded on
// _examples/original_source/plugins/sniff.py.
package sniff

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/3hhh/qubes-qrexec-proxy/internal/ioutil"
	"github.com/3hhh/qubes-qrexec-proxy/internal/logging"
	"github.com/3hhh/qubes-qrexec-proxy/internal/pipe"
	"github.com/3hhh/qubes-qrexec-proxy/internal/plugin"
	"github.com/3hhh/qubes-qrexec-proxy/internal/registry"
	"github.com/3hhh/qubes-qrexec-proxy/internal/session"
	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
)

const Name = "sniff"

func init() {
	registry.Register(Name, plugin.RoleFilter, construct)
}

type decodeFunc func([]byte) string

func construct(logger *logging.Logger, meta session.Meta, config map[string]any) (any, error) {
	mode := "base64"
	if v, ok := config["decode"]; ok {
		if s, ok := v.(string); ok && s != "" {
			mode = s
		}
	}

	var decode decodeFunc
	switch mode {
	case "base64":
		decode = func(b []byte) string { return base64.StdEncoding.EncodeToString(b) }
	case "hex":
		decode = func(b []byte) string { return hex.EncodeToString(b) }
	case "string", "str":
		// String decoding is off-by-default for a reason: it hands
		// attacker-controlled bytes to a log formatter as a string,
		// which is a much larger attack surface (log injection,
		// malformed UTF-8 handling bugs) than hex/base64's
		// fixed-alphabet output. Only enable it for debugging trusted
		// traffic.
		decode = func(b []byte) string { return string(b) }
	default:
		return nil, fmt.Errorf("sniff: unsupported decode mode %q", mode)
	}

	return &Filter{logger: logger, meta: meta, decode: decode}, nil
}

// Filter logs every chunk it relays through the session's diagnostic
// sink, transparently passing the bytes on unmodified.
type Filter struct {
	logger *logging.Logger
	meta   session.Meta
	decode decodeFunc
}

func (f *Filter) Proxy(ctx context.Context, srcR *pipe.Reader, srcW *pipe.Writer, dstR *pipe.Reader, dstW *pipe.Writer) error {
	errs := make(chan error, 2)
	go func() { errs <- f.connectSniff(ctx, srcR, dstW, true) }()
	go func() { errs <- f.connectSniff(ctx, dstR, srcW, false) }()

	var first error
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (f *Filter) connectSniff(ctx context.Context, r *pipe.Reader, w *pipe.Writer, forward bool) error {
	defer ioutil.Flush(w)
	defer r.Close()
	defer w.Close()

	for {
		chunk, err := ioutil.ReadSome(ctx, r, ioutil.DefaultBufSize)
		if err != nil {
			return err
		}
		if len(chunk) == 0 {
			return nil
		}

		f.log(chunk, forward)
		if err := ioutil.WriteAll(ctx, w, chunk, false); err != nil {
			return err
		}
	}
}

func (f *Filter) log(chunk []byte, forward bool) {
	src, dst := f.meta.Dst, f.meta.Src
	if forward {
		src, dst = f.meta.Src, f.meta.Dst
	}
	// Detection runs on the chunk alone, not the reassembled stream, so
	// it's a best-effort per-chunk hint (a format's magic bytes can
	// straddle a chunk boundary) rather than a verdict on the whole
	// payload — cheap enough to run unconditionally since it never reads
	// past mimetype's own small sniff window.
	f.logger.Info("data",
		zap.String("chain", f.meta.Chain),
		zap.String("call", f.meta.Call),
		zap.String("src", src),
		zap.String("dst", dst),
		zap.String("data", f.decode(chunk)),
		zap.String("content_type", mimetype.Detect(chunk).String()),
	)
}
