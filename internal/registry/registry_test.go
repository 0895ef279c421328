package registry

import (
	"context"
	"testing"

	"github.com/3hhh/qubes-qrexec-proxy/internal/logging"
	"github.com/3hhh/qubes-qrexec-proxy/internal/pipe"
	"github.com/3hhh/qubes-qrexec-proxy/internal/plugin"
	"github.com/3hhh/qubes-qrexec-proxy/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFilter struct{}

func (stubFilter) Proxy(ctx context.Context, srcR *pipe.Reader, srcW *pipe.Writer, dstR *pipe.Reader, dstW *pipe.Writer) error {
	return nil
}

func TestRegisterAndResolve(t *testing.T) {
	name := "test-stub-filter"
	Register(name, plugin.RoleFilter, func(logger *logging.Logger, meta session.Meta, config map[string]any) (any, error) {
		return stubFilter{}, nil
	})

	ctor, err := Resolve(name, plugin.RoleFilter)
	require.NoError(t, err)

	instance, err := ctor(nil, session.Meta{}, nil)
	require.NoError(t, err)
	_, ok := instance.(plugin.Filter)
	assert.True(t, ok)
}

func TestResolveMissingName(t *testing.T) {
	_, err := Resolve("does-not-exist", plugin.RoleFilter)
	assert.ErrorIs(t, err, ErrPluginLoad)
}

func TestResolveRoleMismatch(t *testing.T) {
	name := "test-stub-role-mismatch"
	Register(name, plugin.RoleFilter, func(logger *logging.Logger, meta session.Meta, config map[string]any) (any, error) {
		return stubFilter{}, nil
	})

	_, err := Resolve(name, plugin.RoleSource)
	assert.ErrorIs(t, err, ErrPluginLoad)
}

func TestRegisterDuplicatePanics(t *testing.T) {
	name := "test-stub-duplicate"
	Register(name, plugin.RoleFilter, func(logger *logging.Logger, meta session.Meta, config map[string]any) (any, error) {
		return stubFilter{}, nil
	})

	assert.Panics(t, func() {
		Register(name, plugin.RoleFilter, func(logger *logging.Logger, meta session.Meta, config map[string]any) (any, error) {
			return stubFilter{}, nil
		})
	})
}
