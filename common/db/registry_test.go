package db

import (
	"context"
	"errors"
	"testing"

	"github.com/lyzr/flowdeploy/common/environment"
	"github.com/lyzr/flowdeploy/common/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubStore struct {
	closed bool
}

func (s *stubStore) Query(ctx context.Context, sql string, args ...any) ([]Row, error) {
	return nil, nil
}
func (s *stubStore) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	return 0, nil
}
func (s *stubStore) Begin(ctx context.Context) (Tx, error) { return nil, errors.New("not supported") }
func (s *stubStore) Health(ctx context.Context) error      { return nil }
func (s *stubStore) Close() error                          { s.closed = true; return nil }

func TestRegistryOpensOncePerKey(t *testing.T) {
	opened := map[Key]int{}
	stores := map[Key]*stubStore{}
	reg := NewRegistry(func(ctx context.Context, key Key) (Store, error) {
		opened[key]++
		s := &stubStore{}
		stores[key] = s
		return s, nil
	}, logger.Discard())

	ctx := context.Background()
	a, err := reg.Get(ctx, environment.Dev, RoleFlow)
	require.NoError(t, err)
	b, err := reg.Get(ctx, environment.Dev, RoleFlow)
	require.NoError(t, err)
	assert.Same(t, a, b)

	_, err = reg.Get(ctx, environment.Beta, RoleFlow)
	require.NoError(t, err)

	// prompt stores are shared across environments
	_, err = reg.Get(ctx, environment.Dev, RolePrompt)
	require.NoError(t, err)
	_, err = reg.Get(ctx, environment.Beta, RolePrompt)
	require.NoError(t, err)

	assert.Equal(t, 1, opened[Key{Env: environment.Dev, Role: RoleFlow}])
	assert.Equal(t, 1, opened[Key{Role: RolePrompt}])
	assert.Len(t, opened, 3)

	require.NoError(t, reg.Close())
	for _, s := range stores {
		assert.True(t, s.closed)
	}
}

func TestRegistryOpenError(t *testing.T) {
	reg := NewRegistry(func(ctx context.Context, key Key) (Store, error) {
		return nil, errors.New("refused")
	}, logger.Discard())

	_, err := reg.Get(context.Background(), environment.Test, RoleConfig)
	assert.ErrorContains(t, err, "test/config")
}
