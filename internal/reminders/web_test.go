package reminders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medrex/healthon/pkg/types"
)

func newTestWebScheduler(t *testing.T, surfaces WebSurfaces) *WebScheduler {
	t.Helper()
	s := NewWebScheduler(surfaces, testDeps(plannerNow))
	t.Cleanup(s.Stop)
	return s
}

func TestWebScheduler_DeliversWhenDue(t *testing.T) {
	fg := &fakeSurface{available: true}
	s := newTestWebScheduler(t, WebSurfaces{Foreground: fg})

	require.NoError(t, s.ScheduleOneShot(context.Background(), types.ScheduledNotification{
		ID:        11,
		Title:     "Lab test today",
		TriggerAt: plannerNow.Add(20 * time.Millisecond),
	}))

	assert.Eventually(t, func() bool { return len(fg.Shown()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, uint32(11), fg.Shown()[0].ID)
	assert.Empty(t, s.Pending())
}

func TestWebScheduler_ReplaceByID(t *testing.T) {
	fg := &fakeSurface{available: true}
	s := newTestWebScheduler(t, WebSurfaces{Foreground: fg})
	ctx := context.Background()

	require.NoError(t, s.ScheduleOneShot(ctx, types.ScheduledNotification{
		ID: 5, Title: "old", TriggerAt: plannerNow.Add(20 * time.Millisecond),
	}))
	require.NoError(t, s.ScheduleOneShot(ctx, types.ScheduledNotification{
		ID: 5, Title: "new", TriggerAt: plannerNow.Add(40 * time.Millisecond),
	}))
	assert.Equal(t, []uint32{5}, s.Pending())

	assert.Eventually(t, func() bool { return len(fg.Shown()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)

	shown := fg.Shown()
	require.Len(t, shown, 1)
	assert.Equal(t, "new", shown[0].Title)
}

func TestWebScheduler_Cancel(t *testing.T) {
	fg := &fakeSurface{available: true}
	s := newTestWebScheduler(t, WebSurfaces{Foreground: fg})
	ctx := context.Background()

	require.NoError(t, s.ScheduleOneShot(ctx, types.ScheduledNotification{
		ID: 3, TriggerAt: plannerNow.Add(30 * time.Millisecond),
	}))
	require.NoError(t, s.Cancel(ctx, 3))
	require.NoError(t, s.Cancel(ctx, 999))

	time.Sleep(80 * time.Millisecond)
	assert.Empty(t, fg.Shown())
	assert.Empty(t, s.Pending())
}

func TestWebScheduler_SkipsPastOneShot(t *testing.T) {
	fg := &fakeSurface{available: true}
	s := newTestWebScheduler(t, WebSurfaces{Foreground: fg})

	require.NoError(t, s.ScheduleOneShot(context.Background(), types.ScheduledNotification{
		ID: 8, TriggerAt: plannerNow.Add(-time.Minute),
	}))
	assert.Empty(t, s.Pending())
}

func TestWebScheduler_DailyRearms(t *testing.T) {
	fg := &fakeSurface{available: true}
	s := newTestWebScheduler(t, WebSurfaces{Foreground: fg})

	require.NoError(t, s.ScheduleDaily(context.Background(), types.ScheduledNotification{
		ID: 21, Title: "Medication reminder", TriggerAt: plannerNow.Add(20 * time.Millisecond),
	}))

	assert.Eventually(t, func() bool { return len(fg.Shown()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		p := s.Pending()
		return len(p) == 1 && p[0] == 21
	}, time.Second, 5*time.Millisecond)
}

func TestWebScheduler_CancelDuringDailyDelivery(t *testing.T) {
	surface := newBlockingSurface()
	s := newTestWebScheduler(t, WebSurfaces{Foreground: surface})
	ctx := context.Background()

	require.NoError(t, s.ScheduleDaily(ctx, types.ScheduledNotification{
		ID: 7, Title: "Medication reminder", TriggerAt: plannerNow.Add(10 * time.Millisecond),
	}))

	select {
	case id := <-surface.started:
		require.Equal(t, uint32(7), id)
	case <-time.After(time.Second):
		t.Fatal("daily notification was not delivered")
	}

	require.NoError(t, s.Cancel(ctx, 7))
	close(surface.release)

	assert.Eventually(t, func() bool { return len(surface.Shown()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, s.Pending())
}

func TestWebScheduler_RescheduleDuringDailyDelivery(t *testing.T) {
	surface := newBlockingSurface()
	s := newTestWebScheduler(t, WebSurfaces{Foreground: surface})
	ctx := context.Background()

	require.NoError(t, s.ScheduleDaily(ctx, types.ScheduledNotification{
		ID: 7, Title: "old", TriggerAt: plannerNow.Add(10 * time.Millisecond),
	}))
	select {
	case <-surface.started:
	case <-time.After(time.Second):
		t.Fatal("daily notification was not delivered")
	}

	require.NoError(t, s.ScheduleDaily(ctx, types.ScheduledNotification{
		ID: 7, Title: "new", TriggerAt: plannerNow.Add(3 * time.Hour),
	}))
	close(surface.release)

	assert.Eventually(t, func() bool { return len(surface.Shown()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	require.Equal(t, []uint32{7}, s.Pending())
	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Equal(t, "new", s.timers[7].n.Title)
	assert.Equal(t, plannerNow.Add(3*time.Hour), s.timers[7].n.TriggerAt)
}

func TestWebScheduler_DailyPastSlotMovesToTomorrow(t *testing.T) {
	s := newTestWebScheduler(t, WebSurfaces{})

	require.NoError(t, s.ScheduleDaily(context.Background(), types.ScheduledNotification{
		ID: 22, TriggerAt: plannerNow.Add(-2 * time.Hour),
	}))
	assert.Equal(t, []uint32{22}, s.Pending())
	assert.Equal(t, plannerNow.Add(22*time.Hour), s.timers[22].n.TriggerAt)
}

func TestWebScheduler_DisplayFallbackOrder(t *testing.T) {
	ctx := context.Background()

	bg := &fakeSurface{available: true, err: errors.New("push rejected")}
	fg := &fakeSurface{available: false}
	inbox := &fakeSurface{available: true}
	s := newTestWebScheduler(t, WebSurfaces{Background: bg, Foreground: fg, Inbox: inbox})

	require.NoError(t, s.DisplayNow(ctx, "Appointment within the hour", "Starts at 11:00 AM"))
	assert.Empty(t, fg.Shown())
	require.Len(t, inbox.Shown(), 1)
	assert.Equal(t, "Appointment within the hour", inbox.Shown()[0].Title)

	bg.err = nil
	require.NoError(t, s.DisplayNow(ctx, "second", "body"))
	assert.Len(t, bg.Shown(), 1)
	assert.Len(t, inbox.Shown(), 1)
}

func TestWebScheduler_DisplayWithoutSurface(t *testing.T) {
	s := newTestWebScheduler(t, WebSurfaces{Foreground: &fakeSurface{available: false}})

	err := s.DisplayNow(context.Background(), "title", "body")
	assert.True(t, types.IsType(err, types.ErrorTypeBackendUnreachable))
}

func TestWebScheduler_StopIgnoresLaterSchedules(t *testing.T) {
	s := NewWebScheduler(WebSurfaces{}, testDeps(plannerNow))
	ctx := context.Background()

	require.NoError(t, s.ScheduleOneShot(ctx, types.ScheduledNotification{ID: 1, TriggerAt: plannerNow.Add(time.Hour)}))
	s.Stop()
	assert.Empty(t, s.Pending())

	require.NoError(t, s.ScheduleOneShot(ctx, types.ScheduledNotification{ID: 2, TriggerAt: plannerNow.Add(time.Hour)}))
	assert.Empty(t, s.Pending())
}

func TestNextDaily(t *testing.T) {
	now := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2024, 3, 10, 9, 30, 0, 0, time.UTC),
		nextDaily(time.Date(2024, 3, 10, 9, 30, 0, 0, time.UTC), now))
	assert.Equal(t, time.Date(2024, 3, 11, 9, 0, 0, 0, time.UTC),
		nextDaily(now, now))
	assert.Equal(t, time.Date(2024, 3, 11, 8, 0, 0, 0, time.UTC),
		nextDaily(time.Date(2024, 3, 7, 8, 0, 0, 0, time.UTC), now))
}
