package maintenance

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/woozymasta/lmstats/internal/config"
)

type fakeTasks struct {
	calls      []string
	cleanupErr error
}

func (f *fakeTasks) WriteSnapshot(context.Context) (string, error) {
	f.calls = append(f.calls, "snapshot")
	return "2026-03-01", nil
}

func (f *fakeTasks) RefreshPluginCounts(context.Context) (int, error) {
	f.calls = append(f.calls, "plugins")
	return 12, nil
}

func (f *fakeTasks) Cleanup(context.Context) (int64, error) {
	f.calls = append(f.calls, "cleanup")
	return 4, f.cleanupErr
}

func TestRunNothing(t *testing.T) {
	tasks := &fakeTasks{}

	ran, err := Run(context.Background(), &config.Config{}, tasks)
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Empty(t, tasks.calls)
}

func TestRunOrder(t *testing.T) {
	tasks := &fakeTasks{}
	cfg := &config.Config{Storage: config.Storage{Snapshot: true, RefreshPlugins: true, Cleanup: true}}

	ran, err := Run(context.Background(), cfg, tasks)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, []string{"cleanup", "plugins", "snapshot"}, tasks.calls)
}

func TestRunContinuesAfterFailure(t *testing.T) {
	boom := errors.New("database is locked")
	tasks := &fakeTasks{cleanupErr: boom}
	cfg := &config.Config{Storage: config.Storage{Snapshot: true, Cleanup: true}}

	ran, err := Run(context.Background(), cfg, tasks)
	assert.True(t, ran)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"cleanup", "snapshot"}, tasks.calls)
}
