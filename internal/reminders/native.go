package reminders

import (
	"context"
	"time"

	"github.com/medrex/healthon/pkg/interfaces"
	"github.com/medrex/healthon/pkg/types"
)

const nativeComponent = "native_backend"

// displayNowDelay is the lead time of an immediate native delivery;
// native schedulers reject a zero-delay trigger.
const displayNowDelay = time.Second

// NativeScheduler hands notifications to the host OS scheduler through a
// NativeBridge. Deliveries survive the app process not running.
type NativeScheduler struct {
	bridge interfaces.NativeBridge
	deps   Dependencies
}

// NewNativeScheduler creates the native backend
func NewNativeScheduler(bridge interfaces.NativeBridge, deps Dependencies) *NativeScheduler {
	return &NativeScheduler{bridge: bridge, deps: deps.withDefaults()}
}

func (s *NativeScheduler) notificationBackend() {}

// Kind returns NativeHost
func (s *NativeScheduler) Kind() types.HostKind {
	return types.NativeHost
}

// ScheduleOneShot schedules n for its exact trigger time
func (s *NativeScheduler) ScheduleOneShot(ctx context.Context, n types.ScheduledNotification) error {
	if !n.TriggerAt.After(s.deps.Now()) {
		s.deps.Logger.WithComponent(nativeComponent).
			WithField("notification_id", n.ID).
			WithField("trigger_at", n.TriggerAt).
			Debug("Skipping one-shot notification in the past")
		return nil
	}
	n.Recurrence = types.RecurrenceNone
	return s.schedule(ctx, "schedule_once", n)
}

// ScheduleDaily schedules n as a first-class daily repeating alarm
func (s *NativeScheduler) ScheduleDaily(ctx context.Context, n types.ScheduledNotification) error {
	n.Recurrence = types.RecurrenceDaily
	return s.schedule(ctx, "schedule_daily", n)
}

// DisplayNow schedules an untracked notification one second from now
func (s *NativeScheduler) DisplayNow(ctx context.Context, title, body string, extras ...types.NotificationExtras) error {
	n := types.ScheduledNotification{
		ID:         ephemeralID(),
		Title:      title,
		Body:       body,
		TriggerAt:  s.deps.Now().Add(displayNowDelay),
		Recurrence: types.RecurrenceNone,
		Extras:     displayExtras(extras),
	}
	return s.schedule(ctx, "display", n)
}

// Cancel cancels the underlying OS alarm
func (s *NativeScheduler) Cancel(ctx context.Context, id uint32) error {
	err := s.bridge.Cancel(ctx, id)
	s.deps.Metrics.RecordNotification(string(types.NativeHost), "cancel", err == nil)
	if err != nil {
		return types.NewBackendUnreachableError("native cancel failed", id, err)
	}
	return nil
}

func (s *NativeScheduler) schedule(ctx context.Context, op string, n types.ScheduledNotification) error {
	err := s.bridge.Schedule(ctx, n)
	s.deps.Metrics.RecordNotification(string(types.NativeHost), op, err == nil)
	if err != nil {
		return types.NewBackendUnreachableError("native schedule failed", n.ID, err)
	}
	s.deps.Logger.Reminder(op, n.ID, map[string]interface{}{
		"kind":       string(n.Kind),
		"trigger_at": n.TriggerAt,
	})
	return nil
}
