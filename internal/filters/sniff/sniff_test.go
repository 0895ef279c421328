package sniff

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"io"
	"testing"
	"time"

	"github.com/3hhh/qubes-qrexec-proxy/internal/logging"
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
	instance, err := ctor(logging.NewDevelopment(), session.Meta{}, nil)
	require.NoError(t, err)
	_, ok := instance.(plugin.Filter)
	assert.True(t, ok)
}

func TestConstructRejectsUnknownDecodeMode(t *testing.T) {
	_, err := construct(logging.NewDevelopment(), session.Meta{}, map[string]any{"decode": "rot13"})
	assert.Error(t, err)
}

func TestConstructDefaultsToBase64(t *testing.T) {
	instance, err := construct(logging.NewDevelopment(), session.Meta{}, nil)
	require.NoError(t, err)
	f := instance.(*Filter)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("hi")), f.decode([]byte("hi")))
}

func TestConstructHexMode(t *testing.T) {
	instance, err := construct(logging.NewDevelopment(), session.Meta{}, map[string]any{"decode": "hex"})
	require.NoError(t, err)
	f := instance.(*Filter)
	assert.Equal(t, hex.EncodeToString([]byte("hi")), f.decode([]byte("hi")))
}

func TestConstructStringMode(t *testing.T) {
	instance, err := construct(logging.NewDevelopment(), session.Meta{}, map[string]any{"decode": "string"})
	require.NoError(t, err)
	f := instance.(*Filter)
	assert.Equal(t, "hi", f.decode([]byte("hi")))
}

func TestProxyRelaysBytesUnmodified(t *testing.T) {
	f := &Filter{
		logger: logging.NewDevelopment(),
		meta:   session.Meta{Chain: "trusted", Src: "srcvm", Dst: "dstvm", Call: "qubes.Test"},
		decode: func(b []byte) string { return base64.StdEncoding.EncodeToString(b) },
	}

	forwardInR, forwardInW, err := pipe.Open()
	require.NoError(t, err)
	reverseOutR, reverseOutW, err := pipe.Open()
	require.NoError(t, err)
	reverseInR, reverseInW, err := pipe.Open()
	require.NoError(t, err)
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

	done := make(chan error, 1)
	go func() { done <- f.Proxy(context.Background(), forwardInR, reverseOutW, reverseInR, forwardOutW) }()

	select {
	case err := <-done:
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
