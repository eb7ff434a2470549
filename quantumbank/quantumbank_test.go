package quantumbank

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestBank creates a QuantumBank with a sqlite database but without
// starting Run, for tests that exercise state transitions directly.
func newTestBank(t *testing.T) *QuantumBank {
	t.Helper()

	cfg := DefaultTestConfig(t)
	qb, err := New(cfg)
	require.NoError(t, err)

	db := gormDB(t)
	qb.db = db
	qb.writeDB = NewDatabase(db, qb.logger, false)

	runtimeConfig := DefaultRuntimeConfig()
	require.NoError(t, db.Create(&runtimeConfig).Error)
	qb.setRuntimeConfig(&runtimeConfig)

	return qb
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)

	cfg := DefaultConfig()
	// missing discord credentials
	_, err = New(cfg)
	require.Error(t, err)
}

func TestPauseResume(t *testing.T) {
	qb := newTestBank(t)
	ctx := context.Background()

	require.False(t, qb.paused.Load())

	assert.True(t, qb.Pause(ctx))
	assert.True(t, qb.paused.Load())
	assert.True(t, qb.RuntimeConfig().Paused)

	// already paused
	assert.False(t, qb.Pause(ctx))

	assert.True(t, qb.Resume(ctx))
	assert.False(t, qb.paused.Load())
	assert.False(t, qb.RuntimeConfig().Paused)

	// already running
	assert.False(t, qb.Resume(ctx))

	// paused state survived the trip through the database
	var saved RuntimeConfig
	require.NoError(t, qb.db.Last(&saved).Error)
	assert.False(t, saved.Paused)
}

func TestSQLiteNotifier(t *testing.T) {
	qb := newTestBank(t)

	notifier, err := newDBNotifier(qb)
	require.NoError(t, err)
	assert.NotEmpty(t, notifier.ID())
	assert.Empty(t, notifier.StopChannelName())

	ctx := context.Background()
	require.NoError(t, notifier.Listen(ctx, notifier.RuntimeConfigChannelName()))

	assert.True(t, notifier.ReloadRuntimeConfig(ctx))
	select {
	case <-qb.triggerRuntimeConfigRefreshCh:
	default:
		t.Fatal("expected runtime config refresh signal")
	}

	assert.True(t, notifier.ReloadAccountCache(ctx))
	select {
	case <-qb.triggerAccountCacheRefreshCh:
	default:
		t.Fatal("expected account cache refresh signal")
	}

	assert.True(t, notifier.AccountUpdated(ctx, "100"))
	select {
	case userID := <-qb.triggerAccountUpdatedRefreshCh:
		assert.Equal(t, "100", userID)
	default:
		t.Fatal("expected account update signal")
	}

	assert.True(t, notifier.Stop(ctx))
	select {
	case <-qb.signalStop:
	default:
		t.Fatal("expected stop signal")
	}

	// full channels time out instead of blocking forever
	qb.triggerRuntimeConfigRefreshCh <- true
	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	assert.False(t, notifier.ReloadRuntimeConfig(timeoutCtx))
}

func TestNewDBNotifier_InvalidDatabaseType(t *testing.T) {
	qb := newTestBank(t)
	qb.config.DatabaseType = "mongodb"
	_, err := newDBNotifier(qb)
	require.Error(t, err)
}

func TestRuntimeConfigFallsBackToDefaults(t *testing.T) {
	qb := &QuantumBank{}
	got := qb.RuntimeConfig()
	assert.Equal(t, DefaultRuntimeConfig(), got)
}
