package defaultio

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/3hhh/qubes-qrexec-proxy/internal/pipe"
	"github.com/3hhh/qubes-qrexec-proxy/internal/plugin"
	"github.com/3hhh/qubes-qrexec-proxy/internal/registry"
	"github.com/3hhh/qubes-qrexec-proxy/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisteredAsSourceAndDestination(t *testing.T) {
	srcCtor, err := registry.Resolve(Name, plugin.RoleSource)
	require.NoError(t, err)
	srcInstance, err := srcCtor(nil, session.Meta{}, nil)
	require.NoError(t, err)
	_, ok := srcInstance.(plugin.Source)
	assert.True(t, ok)

	dstCtor, err := registry.Resolve(Name, plugin.RoleDestination)
	require.NoError(t, err)
	dstInstance, err := dstCtor(nil, session.Meta{}, nil)
	require.NoError(t, err)
	_, ok = dstInstance.(plugin.Destination)
	assert.True(t, ok)
}

// TestSourceBridgesProcessStdio swaps os.Stdin/os.Stdout for pipe-backed
// files for the duration of the test, the same trick the teacher's own
// process-wiring tests use to avoid touching the real terminal.
func TestSourceBridgesProcessStdio(t *testing.T) {
	origStdin, origStdout := os.Stdin, os.Stdout
	t.Cleanup(func() { os.Stdin, os.Stdout = origStdin, origStdout })

	stdinR, stdinW, err := os.Pipe()
	require.NoError(t, err)
	stdoutR, stdoutW, err := os.Pipe()
	require.NoError(t, err)
	os.Stdin = stdinR
	os.Stdout = stdoutW

	s := &Source{}

	dstR, dstW, err := pipe.Open()
	require.NoError(t, err)
	_, srcW, err := pipe.Open()
	require.NoError(t, err)

	go func() {
		stdinW.Write([]byte("from-calling-vm"))
		stdinW.Close()
	}()
	go func() {
		dstW.Write([]byte("to-calling-vm"))
		dstW.Close()
	}()

	done := make(chan error, 1)
	go func() { done <- s.CommunicateSrc(context.Background(), dstR, srcW) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("CommunicateSrc did not finish in time")
	}

	stdoutW.Close()
	out, err := io.ReadAll(stdoutR)
	require.NoError(t, err)
	assert.Equal(t, "to-calling-vm", string(out))
}

// TestDestinationRelaysThroughStubBinary points qrexecClientVM at a tiny
// shell script standing in for the real qrexec-client-vm binary, which
// isn't present outside a Qubes VM. The stub just echoes its stdin to
// stdout, confirming the pipe wiring is bit-for-bit.
func TestDestinationRelaysThroughStubBinary(t *testing.T) {
	stub := writeStubBinary(t, "#!/bin/sh\ncat\n")
	orig := qrexecClientVM
	qrexecClientVM = stub
	t.Cleanup(func() { qrexecClientVM = orig })

	d := &Destination{meta: session.Meta{Dst: "dstvm", Call: "qubes.Test"}}

	inR, inW, err := pipe.Open()
	require.NoError(t, err)
	outR, outW, err := pipe.Open()
	require.NoError(t, err)

	go func() {
		inW.Write([]byte("relayed"))
		inW.Close()
	}()

	done := make(chan error, 1)
	go func() { done <- d.CommunicateDst(context.Background(), inR, outW) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("CommunicateDst did not finish in time")
	}

	got, err := io.ReadAll(outR)
	require.NoError(t, err)
	assert.Equal(t, "relayed", string(got))
}

// TestDestinationMapsNonZeroExitToPeerError points qrexecClientVM at a
// stub that always fails, confirming the exit code surfaces as a
// session.PeerError rather than a bare exec error.
func TestDestinationMapsNonZeroExitToPeerError(t *testing.T) {
	stub := writeStubBinary(t, "#!/bin/sh\ncat >/dev/null\nexit 7\n")
	orig := qrexecClientVM
	qrexecClientVM = stub
	t.Cleanup(func() { qrexecClientVM = orig })

	d := &Destination{meta: session.Meta{Dst: "dstvm", Call: "qubes.Test"}}

	inR, inW, err := pipe.Open()
	require.NoError(t, err)
	outR, outW, err := pipe.Open()
	require.NoError(t, err)
	inW.Close()

	err = d.CommunicateDst(context.Background(), inR, outW)
	require.Error(t, err)
	var peerErr *session.PeerError
	require.ErrorAs(t, err, &peerErr)
	assert.Equal(t, 7, peerErr.ExitCode)

	_, _ = io.ReadAll(outR)
}

func writeStubBinary(t *testing.T, script string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "stub")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}
