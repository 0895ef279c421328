// Package defaultio implements the implicit default Source/Destination
// pair every chain gets when the session driver doesn't find an explicit
// one configured. Grounded on
// _examples/original_source/plugins/default.py and the
// communicate_source/communicate_destination functions in
// _examples/original_source/qrexec-proxy.py.
//
// The Destination stage execs /usr/lib/qubes/qrexec-client-vm with its
// stdin/stdout wired directly to the pipeline's pipe file descriptors —
// no PTY, no line discipline, so the byte stream it relays stays
// bit-for-bit unmodified (see SPEC_FULL.md §6.8 for why the teacher's
// PTY-backed subprocess pattern was rejected here). Its stderr goes to
// the local diagnostic sink, never to the proxy's own stderr, since that
// would otherwise reach the sending VM.
package defaultio

import (
	"context"
	"os"
	"os/exec"

	"github.com/3hhh/qubes-qrexec-proxy/internal/ioutil"
	"github.com/3hhh/qubes-qrexec-proxy/internal/logging"
	"github.com/3hhh/qubes-qrexec-proxy/internal/pipe"
	"github.com/3hhh/qubes-qrexec-proxy/internal/plugin"
	"github.com/3hhh/qubes-qrexec-proxy/internal/registry"
	"github.com/3hhh/qubes-qrexec-proxy/internal/session"
)

const Name = "default"

// qrexecClientVM is a var rather than a const so tests can point it at a
// stub binary instead of the real qrexec-client-vm.
var qrexecClientVM = "/usr/lib/qubes/qrexec-client-vm"

func init() {
	registry.Register(Name, plugin.RoleSource, constructSource)
	registry.Register(Name, plugin.RoleDestination, constructDestination)
}

func constructSource(logger *logging.Logger, meta session.Meta, config map[string]any) (any, error) {
	return &Source{logger: logger}, nil
}

func constructDestination(logger *logging.Logger, meta session.Meta, config map[string]any) (any, error) {
	return &Destination{logger: logger, meta: meta}, nil
}

// Source bridges this process's own stdin/stdout to the chain — the
// channel qrexec itself already established with the calling VM.
type Source struct {
	logger *logging.Logger
}

func (s *Source) CommunicateSrc(ctx context.Context, dstR *pipe.Reader, srcW *pipe.Writer) error {
	errs := make(chan error, 2)
	go func() {
		_, err := ioutil.Copy(ctx, os.Stdin, srcW, -1, false)
		srcW.Close()
		errs <- err
	}()
	go func() {
		_, err := ioutil.Copy(ctx, dstR, os.Stdout, -1, false)
		dstR.Close()
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

// Destination execs qrexec-client-vm against the configured destination
// VM and service call, wiring its stdin/stdout directly to the chain's
// final pipe pair.
type Destination struct {
	logger *logging.Logger
	meta   session.Meta
}

func (d *Destination) CommunicateDst(ctx context.Context, dstR *pipe.Reader, dstW *pipe.Writer) error {
	defer dstR.Close()
	defer dstW.Close()

	cmd := exec.CommandContext(ctx, qrexecClientVM, d.meta.Dst, d.meta.Call)
	cmd.Stdin = dstR.Fd()
	cmd.Stdout = dstW.Fd()
	cmd.Stderr = &logWriter{logger: d.logger}

	err := cmd.Run()
	if exitErr, ok := err.(*exec.ExitError); ok {
		return &session.PeerError{Dst: d.meta.Dst, Call: d.meta.Call, ExitCode: exitErr.ExitCode()}
	}
	return err
}

// logWriter routes a subprocess's stderr into the diagnostic sink instead
// of the proxy's own stderr, which the calling VM could otherwise
// observe.
type logWriter struct {
	logger *logging.Logger
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.logger.Warn(string(p))
	return len(p), nil
}
