// Package pipe provides the in-process byte-pipe fabric stages are
// spliced together with.
//
// Each Open() call is the Go equivalent of the Python implementation's
// open_pipe(): a unidirectional channel with one reader end and one
// writer end, where closing the writer yields EOF on the reader. Unlike
// the Python version, there's no need to flip O_NONBLOCK by hand — Go's
// os.Pipe() file descriptors are already integrated with the runtime's
// netpoller, so ordinary blocking Read/Write calls suspend only the
// calling goroutine.
package pipe

import (
	"os"
	"sync"
	"time"
)

// Reader is the receiving end of a pipe. It is single-owner: exactly one
// stage holds a given Reader at a time, and Close is safe to call more
// than once (subsequent calls are no-ops), matching the engine's
// guarantee that every endpoint gets closed exactly once logically even
// if two cleanup paths both reach for it.
type Reader struct {
	f        *os.File
	closeOne sync.Once
}

// Writer is the sending end of a pipe.
type Writer struct {
	f        *os.File
	closeOne sync.Once
}

// Open creates a new unidirectional pipe and returns its two ends.
func Open() (*Reader, *Writer, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, nil, err
	}
	return &Reader{f: r}, &Writer{f: w}, nil
}

// Read implements io.Reader.
func (r *Reader) Read(p []byte) (int, error) {
	return r.f.Read(p)
}

// Close closes the reader end. Safe to call multiple times.
func (r *Reader) Close() error {
	var err error
	r.closeOne.Do(func() {
		err = r.f.Close()
	})
	return err
}

// SetReadDeadline forwards to the underlying pipe file descriptor, which
// os.Pipe() creates with deadline support on every platform this proxy
// targets. internal/ioutil uses this to let a context.Context cancel a
// Read already blocked in the kernel.
func (r *Reader) SetReadDeadline(t time.Time) error {
	return r.f.SetReadDeadline(t)
}

// Write implements io.Writer.
func (w *Writer) Write(p []byte) (int, error) {
	return w.f.Write(p)
}

// Close closes the writer end, yielding EOF on the paired Reader. Safe to
// call multiple times.
func (w *Writer) Close() error {
	var err error
	w.closeOne.Do(func() {
		err = w.f.Close()
	})
	return err
}

// SetWriteDeadline forwards to the underlying pipe file descriptor; see
// Reader.SetReadDeadline.
func (w *Writer) SetWriteDeadline(t time.Time) error {
	return w.f.SetWriteDeadline(t)
}

// Fd exposes the underlying file, for the rare stage (the Destination
// plugin's subprocess wiring) that needs to hand a pipe end directly to
// exec.Cmd as Stdin/Stdout rather than going through the Reader/Writer
// wrappers.
func (r *Reader) Fd() *os.File { return r.f }
func (w *Writer) Fd() *os.File { return w.f }
