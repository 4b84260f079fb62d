package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/medrex/healthon/pkg/interfaces"
	"github.com/medrex/healthon/pkg/monitoring"
	"github.com/medrex/healthon/pkg/types"
)

// MockSurface is a mock implementation of DisplaySurface
type MockSurface struct {
	mock.Mock
}

func (m *MockSurface) Available() bool {
	return m.Called().Bool(0)
}

func (m *MockSurface) Show(ctx context.Context, msg interfaces.DisplayMessage) error {
	return m.Called(ctx, msg).Error(0)
}

func reminderTask(t *testing.T) *asynq.Task {
	t.Helper()
	task, err := NewReminderTask(types.ScheduledNotification{
		ID:        101,
		Kind:      types.SourceMedication,
		Title:     "Medication reminder",
		Body:      "Time to take Metformin.",
		TriggerAt: time.Date(2024, 3, 11, 8, 0, 0, 0, time.UTC),
		Extras:    types.NotificationExtras{URL: "/prescriptions"},
	})
	require.NoError(t, err)
	return task
}

func TestWorker_DeliversReminder(t *testing.T) {
	ctx := context.Background()
	surface := new(MockSurface)
	metrics := monitoring.NewNopMetrics()
	w := NewWorker(surface, testLogger(), metrics)

	surface.On("Available").Return(true)
	surface.On("Show", ctx, interfaces.DisplayMessage{
		ID:     101,
		Title:  "Medication reminder",
		Body:   "Time to take Metformin.",
		Extras: types.NotificationExtras{URL: "/prescriptions"},
	}).Return(nil)

	require.NoError(t, w.HandleReminderTask(ctx, reminderTask(t)))
	surface.AssertExpectations(t)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Notifications("worker", "deliver", true)))
}

func TestWorker_NoSurfaceSkipsRetry(t *testing.T) {
	surface := new(MockSurface)
	metrics := monitoring.NewNopMetrics()
	w := NewWorker(surface, testLogger(), metrics)
	surface.On("Available").Return(false)

	err := w.HandleReminderTask(context.Background(), reminderTask(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Notifications("worker", "deliver", false)))
}

func TestWorker_InvalidPayloadSkipsRetry(t *testing.T) {
	w := NewWorker(new(MockSurface), testLogger(), monitoring.NewNopMetrics())

	err := w.HandleReminderTask(context.Background(), asynq.NewTask(TypeReminderFire, []byte("{")))
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestWorker_SendFailureIsRetried(t *testing.T) {
	ctx := context.Background()
	surface := new(MockSurface)
	w := NewWorker(surface, testLogger(), monitoring.NewNopMetrics())
	surface.On("Available").Return(true)
	surface.On("Show", ctx, mock.Anything).Return(errors.New("fcm unavailable"))

	err := w.HandleReminderTask(ctx, reminderTask(t))
	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))
}

func TestWorker_Register(t *testing.T) {
	surface := new(MockSurface)
	surface.On("Available").Return(false)
	mux := asynq.NewServeMux()
	NewWorker(surface, testLogger(), monitoring.NewNopMetrics()).Register(mux)

	err := mux.ProcessTask(context.Background(), reminderTask(t))
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}
