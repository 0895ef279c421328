package bytelimit

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
	_, err = ctor(nil, session.Meta{}, map[string]any{"src2dst_limit": float64(-1), "dst2src_limit": float64(-1)})
	require.NoError(t, err)
}

func TestConstructRequiresConfig(t *testing.T) {
	_, err := construct(nil, session.Meta{}, map[string]any{})
	assert.Error(t, err)
}

func TestProxyCapsForwardBytes(t *testing.T) {
	f := New(nil, 4, -1)

	forwardInR, forwardInW, err := pipe.Open()
	require.NoError(t, err)
	reverseOutR, reverseOutW, err := pipe.Open()
	require.NoError(t, err)
	reverseInR, reverseInW, err := pipe.Open()
	require.NoError(t, err)
	forwardOutR, forwardOutW, err := pipe.Open()
	require.NoError(t, err)

	go func() {
		forwardInW.Write([]byte("0123456789"))
		forwardInW.Close()
	}()
	reverseInW.Close()

	done := make(chan error, 1)
	go func() { done <- f.Proxy(context.Background(), forwardInR, reverseOutW, reverseInR, forwardOutW) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("proxy timed out")
	}

	got, err := io.ReadAll(forwardOutR)
	require.NoError(t, err)
	assert.Equal(t, "0123", string(got))

	_, err = io.ReadAll(reverseOutR)
	require.NoError(t, err)
}

func TestProxyZeroLimitDiscardsEverything(t *testing.T) {
	f := New(nil, -1, 0)

	forwardInR, forwardInW, err := pipe.Open()
	require.NoError(t, err)
	reverseOutR, reverseOutW, err := pipe.Open()
	require.NoError(t, err)
	reverseInR, reverseInW, err := pipe.Open()
	require.NoError(t, err)
	forwardOutR, forwardOutW, err := pipe.Open()
	require.NoError(t, err)

	forwardInW.Close()
	go func() {
		reverseInW.Write([]byte("should be discarded"))
		reverseInW.Close()
	}()

	done := make(chan error, 1)
	go func() { done <- f.Proxy(context.Background(), forwardInR, reverseOutW, reverseInR, forwardOutW) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("proxy timed out")
	}

	rev, err := io.ReadAll(reverseOutR)
	require.NoError(t, err)
	assert.Empty(t, rev)

	_, err = io.ReadAll(forwardOutR)
	require.NoError(t, err)
}
