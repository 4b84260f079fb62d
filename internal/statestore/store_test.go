package statestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medrex/healthon/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_PermissionDefaultsToUnrequested(t *testing.T) {
	s := openTestStore(t)

	st, err := s.LoadPermission(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.PermissionUnrequested, st.Status)
	assert.False(t, st.UserDismissedPrompt)
}

func TestStore_SaveAndLoadPermission(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	updated := time.Date(2024, 3, 10, 10, 0, 0, 123, time.UTC)

	require.NoError(t, s.SavePermission(ctx, types.PermissionState{
		Status:              types.PermissionDenied,
		UserDismissedPrompt: true,
		UpdatedAt:           updated,
	}))
	require.NoError(t, s.SavePermission(ctx, types.PermissionState{
		Status:    types.PermissionGranted,
		UpdatedAt: updated.Add(time.Minute),
	}))

	st, err := s.LoadPermission(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.PermissionGranted, st.Status)
	assert.False(t, st.UserDismissedPrompt)
	assert.True(t, updated.Add(time.Minute).Equal(st.UpdatedAt))
}

func TestStore_PermissionSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	s, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.SavePermission(ctx, types.PermissionState{Status: types.PermissionGranted, UpdatedAt: time.Now()}))
	first, err := s.MarkFired(ctx, "proximity:apt-1:day-before", time.Now())
	require.NoError(t, err)
	assert.True(t, first)
	require.NoError(t, s.Close())

	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	st, err := s.LoadPermission(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.PermissionGranted, st.Status)

	first, err = s.MarkFired(ctx, "proximity:apt-1:day-before", time.Now())
	require.NoError(t, err)
	assert.False(t, first)
}

func TestStore_MarkFired(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	now := time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC)

	first, err := s.MarkFired(ctx, "proximity:apt-1:hour-before", now)
	require.NoError(t, err)
	assert.True(t, first)

	first, err = s.MarkFired(ctx, "proximity:apt-1:hour-before", now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, first)

	first, err = s.MarkFired(ctx, "proximity:apt-1:join-now", now)
	require.NoError(t, err)
	assert.True(t, first)
}

func TestStore_PruneFired(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	now := time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC)
	ist := time.FixedZone("IST", 5*3600+1800)

	_, err := s.MarkFired(ctx, "old", now.Add(-72*time.Hour))
	require.NoError(t, err)
	_, err = s.MarkFired(ctx, "recent", now.Add(-time.Hour).In(ist))
	require.NoError(t, err)

	pruned, err := s.PruneFired(ctx, now.Add(-48*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	first, err := s.MarkFired(ctx, "old", now)
	require.NoError(t, err)
	assert.True(t, first)

	first, err = s.MarkFired(ctx, "recent", now)
	require.NoError(t, err)
	assert.False(t, first)
}

func TestStore_Ping(t *testing.T) {
	s := openTestStore(t)
	assert.NoError(t, s.Ping(context.Background()))
}

func TestStore_ScheduledLedger(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	empty, err := s.LoadScheduled(ctx, "patient-1")
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, s.SaveScheduled(ctx, "patient-1", map[types.SourceKind][]uint32{
		types.SourceAppointment: {30, 10},
		types.SourceVitals:      {7},
	}))
	require.NoError(t, s.SaveScheduled(ctx, "patient-2", map[types.SourceKind][]uint32{
		types.SourceMedication: {99},
	}))

	ids, err := s.LoadScheduled(ctx, "patient-1")
	require.NoError(t, err)
	assert.Equal(t, []uint32{10, 30}, ids[types.SourceAppointment])
	assert.Equal(t, []uint32{7}, ids[types.SourceVitals])
	assert.NotContains(t, ids, types.SourceMedication)

	// a save replaces the whole set of the patient
	require.NoError(t, s.SaveScheduled(ctx, "patient-1", map[types.SourceKind][]uint32{
		types.SourceVitals: {7},
	}))
	ids, err = s.LoadScheduled(ctx, "patient-1")
	require.NoError(t, err)
	assert.NotContains(t, ids, types.SourceAppointment)

	other, err := s.LoadScheduled(ctx, "patient-2")
	require.NoError(t, err)
	assert.Equal(t, []uint32{99}, other[types.SourceMedication])
}

func TestStore_ScheduledLedgerSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	s, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.SaveScheduled(ctx, "patient-1", map[types.SourceKind][]uint32{
		types.SourceLabBooking: {0x7fffffff},
	}))
	require.NoError(t, s.Close())

	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	ids, err := s.LoadScheduled(ctx, "patient-1")
	require.NoError(t, err)
	assert.Equal(t, []uint32{0x7fffffff}, ids[types.SourceLabBooking])
}
