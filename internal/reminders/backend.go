package reminders

import (
	"context"

	"github.com/medrex/healthon/pkg/interfaces"
	"github.com/medrex/healthon/pkg/types"
)

// NotificationBackend delivers scheduled notifications on the current host.
// The only implementations are NativeScheduler and WebScheduler; the unexported
// method keeps the set closed.
type NotificationBackend interface {
	Kind() types.HostKind

	// ScheduleOneShot registers n for delivery at n.TriggerAt, replacing any
	// pending notification with the same id. A trigger that is not in the
	// future is skipped without error.
	ScheduleOneShot(ctx context.Context, n types.ScheduledNotification) error

	// ScheduleDaily registers n to repeat every day at the wall-clock time of n.TriggerAt
	ScheduleDaily(ctx context.Context, n types.ScheduledNotification) error

	// DisplayNow delivers a notification immediately
	DisplayNow(ctx context.Context, title, body string, extras ...types.NotificationExtras) error

	// Cancel is best effort; a notification that already fired cannot be recalled
	Cancel(ctx context.Context, id uint32) error

	notificationBackend()
}

// BackendOptions carries the collaborators of both backend variants. Only the
// fields relevant to the selected host are used.
type BackendOptions struct {
	Bridge     interfaces.NativeBridge
	Background interfaces.DisplaySurface
	Foreground interfaces.DisplaySurface
	Inbox      interfaces.DisplaySurface
}

// NewBackend selects the backend variant for host. It is called once at startup.
func NewBackend(host types.HostKind, opts BackendOptions, deps Dependencies) NotificationBackend {
	if host == types.NativeHost && opts.Bridge != nil {
		return NewNativeScheduler(opts.Bridge, deps)
	}
	return NewWebScheduler(WebSurfaces{
		Background: opts.Background,
		Foreground: opts.Foreground,
		Inbox:      opts.Inbox,
	}, deps)
}

func displayExtras(extras []types.NotificationExtras) types.NotificationExtras {
	if len(extras) == 0 {
		return types.NotificationExtras{}
	}
	return extras[0]
}
