package passthrough

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/3hhh/qubes-qrexec-proxy/internal/pipe"
	"github.com/3hhh/qubes-qrexec-proxy/internal/plugin"
	"github.com/3hhh/qubes-qrexec-proxy/internal/registry"
	"github.com/3hhh/qubes-qrexec-proxy/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistered(t *testing.T) {
	ctor, err := registry.Resolve(Name, plugin.RoleFilter)
	require.NoError(t, err)
	instance, err := ctor(nil, session.Meta{}, nil)
	require.NoError(t, err)
	_, ok := instance.(plugin.Filter)
	assert.True(t, ok)
}

func TestProxyRelaysBothDirections(t *testing.T) {
	f := &Filter{}

	// Forward in: data arriving from upstream (the source side).
	forwardInR, forwardInW, err := pipe.Open()
	require.NoError(t, err)
	// Reverse out: data the filter sends back upstream.
	reverseOutR, reverseOutW, err := pipe.Open()
	require.NoError(t, err)
	// Reverse in: data arriving from downstream (the destination side).
	reverseInR, reverseInW, err := pipe.Open()
	require.NoError(t, err)
	// Forward out: data the filter sends on downstream.
	forwardOutR, forwardOutW, err := pipe.Open()
	require.NoError(t, err)

	go func() {
		forwardInW.Write([]byte("forward-data"))
		forwardInW.Close()
	}()
	go func() {
		reverseInW.Write([]byte("reverse-data"))
		reverseInW.Close()
	}()

	proxyDone := make(chan error, 1)
	go func() {
		proxyDone <- f.Proxy(context.Background(), forwardInR, reverseOutW, reverseInR, forwardOutW)
	}()

	select {
	case err := <-proxyDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("proxy did not finish in time")
	}

	fwd, err := io.ReadAll(forwardOutR)
	require.NoError(t, err)
	assert.Equal(t, "forward-data", string(fwd))

	rev, err := io.ReadAll(reverseOutR)
	require.NoError(t, err)
	assert.Equal(t, "reverse-data", string(rev))
}
