// Package streamline implements the reference filter that buffers
// incoming data into fixed-size chunks and adds an independent random
// delay before each write and before each read after the first, making
// backpressure-based
// covert channels between two compromised VMs harder to exploit (though
// not impossible — see the Python plugin's own caveat). Grounded on
// _examples/original_source/plugins/streamline.py.
package streamline

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/3hhh/qubes-qrexec-proxy/internal/ioutil"
	"github.com/3hhh/qubes-qrexec-proxy/internal/logging"
	"github.com/3hhh/qubes-qrexec-proxy/internal/pipe"
	"github.com/3hhh/qubes-qrexec-proxy/internal/plugin"
	"github.com/3hhh/qubes-qrexec-proxy/internal/registry"
	"github.com/3hhh/qubes-qrexec-proxy/internal/session"
)

const Name = "streamline"

const (
	defaultBufSize    = 1024 * 1024 * 10
	defaultDelayRead  = 500 * time.Millisecond
	defaultDelayWrite = 500 * time.Millisecond
)

func init() {
	registry.Register(Name, plugin.RoleFilter, construct)
}

func construct(logger *logging.Logger, meta session.Meta, config map[string]any) (any, error) {
	bufSize := defaultBufSize
	if v, ok := config["buf_size"]; ok {
		n, err := intParam(v, "buf_size")
		if err != nil {
			return nil, err
		}
		bufSize = n
	}

	delayRead := defaultDelayRead
	if v, ok := config["delay_read"]; ok {
		d, err := durationParam(v, "delay_read")
		if err != nil {
			return nil, err
		}
		delayRead = d
	}

	delayWrite := defaultDelayWrite
	if v, ok := config["delay_write"]; ok {
		d, err := durationParam(v, "delay_write")
		if err != nil {
			return nil, err
		}
		delayWrite = d
	}

	return &Filter{
		logger:     logger,
		bufSize:    bufSize,
		delayRead:  delayRead,
		delayWrite: delayWrite,
	}, nil
}

// Filter buffers each direction into bufSize chunks, sleeping a random
// duration (uniform between 0 and the configured maximum) before each
// write and before each read except a direction's first.
type Filter struct {
	logger     *logging.Logger
	bufSize    int
	delayRead  time.Duration
	delayWrite time.Duration
}

func (f *Filter) Proxy(ctx context.Context, srcR *pipe.Reader, srcW *pipe.Writer, dstR *pipe.Reader, dstW *pipe.Writer) error {
	errs := make(chan error, 2)
	go func() { errs <- f.connectStreamline(ctx, srcR, dstW) }()
	go func() { errs <- f.connectStreamline(ctx, dstR, srcW) }()

	var first error
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (f *Filter) connectStreamline(ctx context.Context, r *pipe.Reader, w *pipe.Writer) error {
	defer ioutil.Flush(w)
	defer r.Close()
	defer w.Close()

	for i := 0; ; i++ {
		if i > 0 {
			if err := sleep(ctx, f.delayRead); err != nil {
				return err
			}
		}

		buf, err := ioutil.ReadExactly(ctx, r, f.bufSize)
		if err != nil {
			return err
		}
		if len(buf) == 0 {
			return nil
		}

		if err := sleep(ctx, f.delayWrite); err != nil {
			return err
		}
		if err := ioutil.WriteAll(ctx, w, buf, false); err != nil {
			return err
		}
		if len(buf) < f.bufSize {
			return nil
		}
	}
}

// sleep waits a random duration in [0, max), honoring ctx cancellation.
func sleep(ctx context.Context, max time.Duration) error {
	if max <= 0 {
		return nil
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return err
	}
	delay := time.Duration(n.Int64())

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func intParam(v any, key string) (int, error) {
	switch n := v.(type) {
	case float64:
		return int(n), nil
	case int:
		return n, nil
	default:
		return 0, fmt.Errorf("streamline: config parameter %q has unsupported type %T", key, v)
	}
}

func durationParam(v any, key string) (time.Duration, error) {
	switch n := v.(type) {
	case float64:
		return time.Duration(n * float64(time.Second)), nil
	case int:
		return time.Duration(n) * time.Second, nil
	default:
		return 0, fmt.Errorf("streamline: config parameter %q has unsupported type %T", key, v)
	}
}
