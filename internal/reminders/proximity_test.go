package reminders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medrex/healthon/pkg/types"
)

// failingFiredLog always reports an unavailable store
type failingFiredLog struct{}

func (failingFiredLog) MarkFired(ctx context.Context, key string, firedAt time.Time) (bool, error) {
	return false, errors.New("storage quota exceeded")
}

func newTestProximityEngine(log *MemoryFiredLog) *ProximityEngine {
	cfg := ProximityConfig{Location: time.UTC}
	if log == nil {
		return NewProximityEngine(cfg, nil, testDeps(plannerNow))
	}
	return NewProximityEngine(cfg, log, testDeps(plannerNow))
}

func TestProximityEngine_Classify(t *testing.T) {
	e := newTestProximityEngine(nil)
	appt := func(until time.Duration, video bool) types.AppointmentSource {
		return types.AppointmentSource{
			ID:             "apt",
			ScheduledAt:    plannerNow.Add(until),
			IsTelemedicine: video,
			Status:         string(types.StatusScheduled),
		}
	}

	tests := []struct {
		name  string
		appt  types.AppointmentSource
		band  types.Band
		found bool
	}{
		{"exactly 24h", appt(24*time.Hour, false), types.BandDayBefore, true},
		{"just over 23h", appt(23*time.Hour+time.Minute, false), types.BandDayBefore, true},
		{"exactly 23h", appt(23*time.Hour, false), "", false},
		{"over 24h", appt(24*time.Hour+time.Second, false), "", false},
		{"mid-day gap", appt(5*time.Hour, false), "", false},
		{"exactly 1h", appt(time.Hour, false), types.BandHourBefore, true},
		{"20 minutes in person", appt(20*time.Minute, false), types.BandHourBefore, true},
		{"20 minutes video", appt(20*time.Minute, true), types.BandJoinNow, true},
		{"45 minutes video", appt(45*time.Minute, true), types.BandHourBefore, true},
		{"started", appt(0, true), "", false},
		{"past", appt(-time.Minute, false), "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			band, ok := e.Classify(tt.appt, plannerNow)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.band, band)
		})
	}

	cancelled := appt(time.Hour, false)
	cancelled.Status = string(types.StatusCancelled)
	_, ok := e.Classify(cancelled, plannerNow)
	assert.False(t, ok)
}

func TestProximityEngine_FiresOncePerBand(t *testing.T) {
	ctx := context.Background()
	e := newTestProximityEngine(nil)
	appts := []types.AppointmentSource{{
		ID:               "apt-1",
		ScheduledAt:      plannerNow.Add(24*time.Hour + 10*time.Minute),
		CounterpartyName: "Dr. Rao",
		Status:           string(types.StatusConfirmed),
	}}

	var fired []types.Alert
	for i := 0; i < 100; i++ {
		fired = append(fired, e.Evaluate(ctx, appts, plannerNow.Add(time.Duration(i)*time.Minute))...)
	}

	require.Len(t, fired, 1)
	assert.Equal(t, types.BandDayBefore, fired[0].Band)
	assert.Equal(t, "Appointment tomorrow", fired[0].Title)
	assert.Equal(t, "Your appointment with Dr. Rao is tomorrow at 10:10 AM.", fired[0].Body)
	assert.Equal(t, "/appointments/apt-1", fired[0].Action)
}

func TestProximityEngine_TelemedicineJoinNowOnly(t *testing.T) {
	ctx := context.Background()
	e := newTestProximityEngine(nil)
	appts := []types.AppointmentSource{{
		ID:             "apt-2",
		ScheduledAt:    plannerNow.Add(20 * time.Minute),
		IsTelemedicine: true,
		Status:         string(types.StatusScheduled),
	}}

	var fired []types.Alert
	for i := 0; i < 10; i++ {
		fired = append(fired, e.Evaluate(ctx, appts, plannerNow.Add(time.Duration(i)*time.Minute))...)
	}

	require.Len(t, fired, 1)
	assert.Equal(t, types.BandJoinNow, fired[0].Band)
	assert.Equal(t, "/telemedicine/apt-2", fired[0].Action)
	assert.Contains(t, fired[0].Body, "Your doctor")
}

func TestProximityEngine_HourThenJoin(t *testing.T) {
	ctx := context.Background()
	e := newTestProximityEngine(nil)
	appts := []types.AppointmentSource{{
		ID:             "apt-3",
		ScheduledAt:    plannerNow.Add(50 * time.Minute),
		IsTelemedicine: true,
	}}

	var bands []types.Band
	for i := 0; i < 50; i++ {
		for _, a := range e.Evaluate(ctx, appts, plannerNow.Add(time.Duration(i)*time.Minute)) {
			bands = append(bands, a.Band)
		}
	}
	assert.Equal(t, []types.Band{types.BandHourBefore, types.BandJoinNow}, bands)
}

func TestProximityEngine_BandReentryDoesNotRefire(t *testing.T) {
	ctx := context.Background()
	e := newTestProximityEngine(nil)
	appt := types.AppointmentSource{
		ID:          "apt-4",
		ScheduledAt: plannerNow.Add(50 * time.Minute),
		Status:      string(types.StatusScheduled),
	}

	alerts := e.Evaluate(ctx, []types.AppointmentSource{appt}, plannerNow)
	require.Len(t, alerts, 1)
	assert.Equal(t, types.BandHourBefore, alerts[0].Band)

	appt.ScheduledAt = plannerNow.Add(61 * time.Minute)
	assert.Empty(t, e.Evaluate(ctx, []types.AppointmentSource{appt}, plannerNow))

	appt.ScheduledAt = plannerNow.Add(50 * time.Minute)
	assert.Empty(t, e.Evaluate(ctx, []types.AppointmentSource{appt}, plannerNow))

	later := plannerNow.Add(10 * time.Minute)
	appt.ScheduledAt = later.Add(61 * time.Minute)
	assert.Empty(t, e.Evaluate(ctx, []types.AppointmentSource{appt}, later))
	appt.ScheduledAt = later.Add(50 * time.Minute)
	assert.Empty(t, e.Evaluate(ctx, []types.AppointmentSource{appt}, later))
}

func TestProximityEngine_JoinWindowCoversJoinReminder(t *testing.T) {
	appt := types.AppointmentSource{
		ID:             "apt-5",
		ScheduledAt:    plannerNow.Add(3 * time.Hour),
		IsTelemedicine: true,
		Status:         string(types.StatusConfirmed),
	}
	join := newPlanner(plannerNow, time.UTC).appointment(appt)[2]

	for _, window := range []time.Duration{0, time.Minute, types.VideoVisitReminderLead, time.Hour} {
		e := NewProximityEngine(ProximityConfig{JoinWindow: window, Location: time.UTC}, nil, testDeps(plannerNow))
		band, ok := e.Classify(appt, join.TriggerAt)
		require.True(t, ok, "window %s", window)
		assert.Equal(t, types.BandJoinNow, band, "window %s", window)
	}
}

func TestProximityEngine_PersistedLogAcrossEngines(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryFiredLog(100, time.Hour)
	appts := []types.AppointmentSource{{ID: "apt-4", ScheduledAt: plannerNow.Add(30 * time.Minute)}}

	first := newTestProximityEngine(log)
	assert.Len(t, first.Evaluate(ctx, appts, plannerNow), 1)

	second := newTestProximityEngine(log)
	assert.Empty(t, second.Evaluate(ctx, appts, plannerNow))
}

func TestProximityEngine_ResetKeepsPersistedLog(t *testing.T) {
	ctx := context.Background()
	appts := []types.AppointmentSource{{ID: "apt-5", ScheduledAt: plannerNow.Add(30 * time.Minute)}}

	sessionOnly := newTestProximityEngine(nil)
	assert.Len(t, sessionOnly.Evaluate(ctx, appts, plannerNow), 1)
	sessionOnly.Reset()
	assert.Len(t, sessionOnly.Evaluate(ctx, appts, plannerNow), 1)

	persisted := newTestProximityEngine(NewMemoryFiredLog(100, time.Hour))
	assert.Len(t, persisted.Evaluate(ctx, appts, plannerNow), 1)
	persisted.Reset()
	assert.Empty(t, persisted.Evaluate(ctx, appts, plannerNow))
}

func TestProximityEngine_FiredLogErrorFallsBackToSession(t *testing.T) {
	ctx := context.Background()
	deps, hook := hookedDeps(plannerNow)
	e := NewProximityEngine(ProximityConfig{Location: time.UTC}, failingFiredLog{}, deps)
	appts := []types.AppointmentSource{{ID: "apt-6", ScheduledAt: plannerNow.Add(30 * time.Minute)}}

	assert.Len(t, e.Evaluate(ctx, appts, plannerNow), 1)
	assert.Empty(t, e.Evaluate(ctx, appts, plannerNow.Add(time.Minute)))

	assert.Len(t, suppressedEntries(hook), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(
		deps.Metrics.SuppressedErrors(string(types.ErrorTypeInternal), proximityComponent)))
}

func TestMemoryFiredLog(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryFiredLog(10, time.Hour)

	first, err := log.MarkFired(ctx, "k", plannerNow)
	require.NoError(t, err)
	assert.True(t, first)

	first, err = log.MarkFired(ctx, "k", plannerNow)
	require.NoError(t, err)
	assert.False(t, first)

	first, err = log.MarkFired(ctx, "other", plannerNow)
	require.NoError(t, err)
	assert.True(t, first)
}

func TestMemoryFiredLog_Expires(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryFiredLog(10, 20*time.Millisecond)

	first, _ := log.MarkFired(ctx, "k", plannerNow)
	assert.True(t, first)

	assert.Eventually(t, func() bool {
		first, _ := log.MarkFired(ctx, "k", plannerNow)
		return first
	}, time.Second, 10*time.Millisecond)
}
