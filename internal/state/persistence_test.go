package state

import (
	"encoding/json"
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/ea-stress/internal/workflow"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	return s
}

func sample(symbol string, updated time.Time) workflow.State {
	st := workflow.New("TrendEA", "/ea/TrendEA.mq5", symbol, "H1", updated)
	st.Status = workflow.StatusInProgress
	st.RecordStep(workflow.StepRecord{Name: workflow.StepLoad, Passed: true})
	return st
}

// TestStore_SaveLoad tests a round trip through disk
func TestStore_SaveLoad(t *testing.T) {
	s := newStore(t)
	st := sample("EURUSD", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))

	require.NoError(t, s.Save(st))
	got, err := s.Load(st.ID)
	require.NoError(t, err)

	assert.Equal(t, st.ID, got.ID)
	assert.Equal(t, workflow.StatusInProgress, got.Status)
	require.Len(t, got.Steps, 1)
	assert.True(t, got.Steps[0].Passed)

	// no temporary or lock files left behind
	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, st.ID+".json", entries[0].Name())
}

// TestStore_LoadMissing tests the not-found sentinel
func TestStore_LoadMissing(t *testing.T) {
	s := newStore(t)
	_, err := s.Load("nope")
	assert.True(t, stderrors.Is(err, ErrNotFound))

	_, err = s.Load("../etc")
	assert.Error(t, err)
}

// TestStore_LoadInvalid tests that inconsistent documents are rejected
func TestStore_LoadInvalid(t *testing.T) {
	s := newStore(t)
	st := sample("EURUSD", time.Now())
	st.ActiveVersionID = "missing"
	data, err := json.Marshal(st)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(s.Path(st.ID), data, 0644))

	_, err = s.Load(st.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "active version")
}

// TestStore_FreshLockBlocks tests that a live lock prevents writes
func TestStore_FreshLockBlocks(t *testing.T) {
	s := newStore(t)
	st := sample("EURUSD", time.Now())

	info, _ := json.Marshal(lockInfo{Timestamp: time.Now().UTC(), PID: 4242, Hostname: "other"})
	require.NoError(t, os.WriteFile(s.lockPath(st.ID), info, 0644))

	err := s.Save(st)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, ErrLocked))
	assert.Contains(t, err.Error(), "pid 4242")
	_, err = os.Stat(s.Path(st.ID))
	assert.True(t, os.IsNotExist(err))
}

// TestStore_StaleLockBroken tests that an expired or unreadable lock is removed
func TestStore_StaleLockBroken(t *testing.T) {
	s := newStore(t)
	st := sample("EURUSD", time.Now())

	info, _ := json.Marshal(lockInfo{Timestamp: time.Now().Add(-10 * time.Minute).UTC(), PID: 1})
	require.NoError(t, os.WriteFile(s.lockPath(st.ID), info, 0644))
	require.NoError(t, s.Save(st))

	require.NoError(t, os.WriteFile(s.lockPath(st.ID), []byte("garbage"), 0644))
	require.NoError(t, s.Save(st))

	_, err := os.Stat(s.lockPath(st.ID))
	assert.True(t, os.IsNotExist(err))
}

// TestStore_AcquireExclusive tests that a held workflow rejects other owners
func TestStore_AcquireExclusive(t *testing.T) {
	s := newStore(t)
	st := sample("EURUSD", time.Now())
	require.NoError(t, s.Save(st))

	release, err := s.Acquire(st.ID)
	require.NoError(t, err)

	_, err = s.Acquire(st.ID)
	assert.ErrorIs(t, err, ErrLocked)

	other, err := NewStore(s.Dir(), zerolog.Nop())
	require.NoError(t, err)
	_, err = other.Acquire(st.ID)
	assert.ErrorIs(t, err, ErrLocked)
	assert.ErrorIs(t, other.Save(st), ErrLocked)

	st.Status = workflow.StatusAwaitingEAFix
	require.NoError(t, s.Save(st))

	release()
	release()
	_, err = os.Stat(s.lockPath(st.ID))
	assert.True(t, os.IsNotExist(err))

	stored, err := other.Load(st.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusAwaitingEAFix, stored.Status)

	again, err := other.Acquire(st.ID)
	require.NoError(t, err)
	again()
}

// TestStore_AcquireRefreshesLock tests that a held lock never goes stale
func TestStore_AcquireRefreshesLock(t *testing.T) {
	s := newStore(t)
	s.staleAfter = 150 * time.Millisecond
	st := sample("EURUSD", time.Now())
	require.NoError(t, s.Save(st))

	release, err := s.Acquire(st.ID)
	require.NoError(t, err)
	defer release()

	time.Sleep(400 * time.Millisecond)

	other, err := NewStore(s.Dir(), zerolog.Nop())
	require.NoError(t, err)
	other.staleAfter = 150 * time.Millisecond
	_, err = other.Acquire(st.ID)
	assert.ErrorIs(t, err, ErrLocked)
}

// TestStore_List tests ordering and skipping of broken documents
func TestStore_List(t *testing.T) {
	s := newStore(t)
	older := sample("EURUSD", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	newer := sample("USDJPY", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, s.Save(older))
	require.NoError(t, s.Save(newer))
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "broken.json"), []byte("{"), 0644))

	list, err := s.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "USDJPY", list[0].Symbol)
	assert.Equal(t, older.ID, list[1].ID)
}
