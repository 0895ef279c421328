// Package ioutil provides the byte-channel primitives every pipeline stage
// is built from: read some data, read exactly N bytes, write a buffer in
// full, discard a reader to EOF, and copy with an optional byte limit.
//
// The Python implementation this proxy is modeled on runs a single
// asyncio event loop and manages non-blocking file descriptors by hand,
// retrying reads/writes with `asyncio.sleep(0)` whenever the kernel
// returns EWOULDBLOCK. Go gets the same cooperative-suspend behavior for
// free: an os.Pipe() file descriptor is registered with the runtime's
// netpoller, so a goroutine blocked in Read or Write yields the OS thread
// to other goroutines rather than the process. Running each stage in its
// own goroutine and doing ordinary blocking I/O is therefore the
// idiomatic Go translation of the explicit retry loop — see DESIGN.md.
//
// Cancellation still needs to reach a Read or Write already blocked
// inside the kernel, though, which a context.Context can't do on its
// own. Where the underlying reader/writer supports deadlines (true of
// every pipe.Reader/pipe.Writer in this proxy, since os.Pipe() file
// descriptors are poller-backed), ReadSome/WriteAll race the call
// against ctx.Done() and force a deadline to unblock it if the context
// is canceled first.
package ioutil

import (
	"context"
	"errors"
	"io"
	"os"
	"time"
)

// DefaultBufSize is the chunk size used by Copy and Discard when no
// tighter limit narrows it, matching the Python implementation's
// READ_BUF_SIZE of 1 MiB.
const DefaultBufSize = 1024 * 1024

type readDeadliner interface {
	SetReadDeadline(time.Time) error
}

type writeDeadliner interface {
	SetWriteDeadline(time.Time) error
}

// ReadSome reads whatever is immediately available from r, up to max
// bytes, returning a shorter read if that's all that's ready. A zero
// length, nil-error result means EOF.
func ReadSome(ctx context.Context, r io.Reader, max int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	buf := make([]byte, max)
	n, err := readCancelable(ctx, r, buf)
	if n > 0 {
		return buf[:n], nil
	}
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	return nil, err
}

// readCancelable performs one Read, unblocking it early if ctx is
// canceled before the underlying call returns.
func readCancelable(ctx context.Context, r io.Reader, buf []byte) (int, error) {
	ownDeadline := false
	if dl, hasDeadliner := r.(readDeadliner); hasDeadliner {
		if deadline, ok := ctx.Deadline(); ok {
			ownDeadline = true
			dl.SetReadDeadline(deadline)
			defer dl.SetReadDeadline(time.Time{})
		}
		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-ctx.Done():
				dl.SetReadDeadline(time.Now())
			case <-done:
			}
		}()
	}

	n, err := r.Read(buf)
	if errors.Is(err, os.ErrDeadlineExceeded) {
		// Every deadline installed above comes from ctx: its own
		// Deadline(), or an immediate one once ctx is done. The FD-level
		// deadline (kernel/netpoller timer) and ctx's own timer race
		// independently toward the same instant, so ctx.Err() may not
		// have flipped yet when the former fires; with ownDeadline set
		// that case is reported as ctx's deadline.
		if cerr := ctx.Err(); cerr != nil {
			return n, cerr
		}
		if ownDeadline {
			return n, context.DeadlineExceeded
		}
	}
	return n, err
}

// ReadExactly reads from r until exactly n bytes have been accumulated or
// EOF is reached, whichever comes first — returning fewer than n bytes
// signals EOF was hit early, mirroring the Python read_full_noblock
// helper's "short read means EOF" contract. n == -1 reads until EOF.
func ReadExactly(ctx context.Context, r io.Reader, n int) ([]byte, error) {
	if n == -1 {
		return readAll(ctx, r)
	}

	out := make([]byte, 0, n)
	remaining := n
	for remaining > 0 {
		want := remaining
		if want > DefaultBufSize {
			want = DefaultBufSize
		}
		chunk, err := ReadSome(ctx, r, want)
		if err != nil {
			return out, err
		}
		if len(chunk) == 0 {
			break
		}
		out = append(out, chunk...)
		remaining -= len(chunk)
	}
	return out, nil
}

func readAll(ctx context.Context, r io.Reader) ([]byte, error) {
	var out []byte
	for {
		chunk, err := ReadSome(ctx, r, DefaultBufSize)
		if err != nil {
			return out, err
		}
		if len(chunk) == 0 {
			return out, nil
		}
		out = append(out, chunk...)
	}
}

// WriteAll writes buf to w in full, retrying partial writes until every
// byte is written or an error occurs. flush calls Flush on w if it
// implements an interface{ Flush() error }, matching write_noblock's
// optional flush parameter.
func WriteAll(ctx context.Context, w io.Writer, buf []byte, flush bool) error {
	remaining := buf
	for len(remaining) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := writeCancelable(ctx, w, remaining)
		if n > 0 {
			remaining = remaining[n:]
		}
		if err != nil {
			return err
		}
	}
	if flush {
		return Flush(w)
	}
	return nil
}

// writeCancelable performs one Write, unblocking it early if ctx is
// canceled before the underlying call returns.
func writeCancelable(ctx context.Context, w io.Writer, buf []byte) (int, error) {
	ownDeadline := false
	if dl, hasDeadliner := w.(writeDeadliner); hasDeadliner {
		if deadline, ok := ctx.Deadline(); ok {
			ownDeadline = true
			dl.SetWriteDeadline(deadline)
			defer dl.SetWriteDeadline(time.Time{})
		}
		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-ctx.Done():
				dl.SetWriteDeadline(time.Now())
			case <-done:
			}
		}()
	}

	n, err := w.Write(buf)
	if errors.Is(err, os.ErrDeadlineExceeded) {
		// See readCancelable: the FD-level deadline races ctx's own timer
		// independently, so ctx.Err() may lag behind even when this
		// deadline came from ctx.Deadline() — with ownDeadline set that
		// case is translated without waiting on ctx.Err() to catch up.
		if cerr := ctx.Err(); cerr != nil {
			return n, cerr
		}
		if ownDeadline {
			return n, context.DeadlineExceeded
		}
	}
	return n, err
}

// Flush flushes w if it implements Flush() error; otherwise it's a no-op,
// since plain os.Pipe() writers have nothing to buffer.
func Flush(w io.Writer) error {
	if f, ok := w.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

// Discard reads r to EOF without retaining the data, and optionally closes
// it afterward — the Go equivalent of discard_noblock, used by the
// byte-limit filter to drain a source after it reaches its quota so the
// sender can finish writing without blocking forever.
func Discard(ctx context.Context, r io.Reader, closeAfter bool) error {
	for {
		chunk, err := ReadSome(ctx, r, DefaultBufSize)
		if err != nil {
			if closeAfter {
				closeIfCloser(r)
			}
			return err
		}
		if len(chunk) == 0 {
			break
		}
	}
	if closeAfter {
		return closeIfCloser(r)
	}
	return nil
}

// Copy reads from r and writes to w until limit bytes have been
// transferred or EOF is reached (limit < 0 means unlimited), optionally
// closing both ends afterward. It returns the number of bytes copied.
// This is the Go equivalent of connect_noblock.
func Copy(ctx context.Context, r io.Reader, w io.Writer, limit int64, closeAfter bool) (n int64, err error) {
	defer func() {
		if ferr := Flush(w); ferr != nil && err == nil {
			err = ferr
		}
		if closeAfter {
			if cerr := closeIfCloser(r); cerr != nil && err == nil {
				err = cerr
			}
			if cerr := closeIfCloser(w); cerr != nil && err == nil {
				err = cerr
			}
		}
	}()

	remaining := limit
	for remaining != 0 {
		want := DefaultBufSize
		if remaining > 0 && int64(want) > remaining {
			want = int(remaining)
		}

		chunk, rerr := ReadSome(ctx, r, want)
		if len(chunk) > 0 {
			if werr := WriteAll(ctx, w, chunk, false); werr != nil {
				return n, werr
			}
			n += int64(len(chunk))
			if remaining > 0 {
				remaining -= int64(len(chunk))
			}
		}
		if rerr != nil {
			return n, rerr
		}
		if len(chunk) == 0 {
			break
		}
	}
	return n, nil
}

func closeIfCloser(v any) error {
	if c, ok := v.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
