package reminders

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/medrex/healthon/pkg/interfaces"
	"github.com/medrex/healthon/pkg/types"
)

const webComponent = "web_backend"

// deliveryTimeout bounds one surface delivery started by a timer
const deliveryTimeout = 10 * time.Second

// WebSurfaces are the display surfaces of a browser host in fallback order
type WebSurfaces struct {
	// Background keeps the alert visible while the page is not focused
	Background interfaces.DisplaySurface
	// Foreground only works while the page is open
	Foreground interfaces.DisplaySurface
	// Inbox is the in-app toast fallback
	Inbox interfaces.DisplaySurface
}

func (w WebSurfaces) ordered() []namedSurface {
	return []namedSurface{
		{name: "background", surface: w.Background},
		{name: "foreground", surface: w.Foreground},
		{name: "inbox", surface: w.Inbox},
	}
}

type namedSurface struct {
	name    string
	surface interfaces.DisplaySurface
}

type webTimer struct {
	timer *time.Timer
	gen   uint64
	n     types.ScheduledNotification
}

// WebScheduler arms in-process timers keyed by notification id. Timers do not
// survive a restart; callers run a sync pass on every start to re-arm them.
type WebScheduler struct {
	surfaces WebSurfaces
	deps     Dependencies

	mu     sync.Mutex
	timers map[uint32]*webTimer
	// delivering holds the generation of timers whose delivery is in flight.
	// Cancel or a new schedule for the id removes it, which stops a daily re-arm.
	delivering map[uint32]uint64
	gen        uint64
	stopped    bool
}

// NewWebScheduler creates the web backend
func NewWebScheduler(surfaces WebSurfaces, deps Dependencies) *WebScheduler {
	return &WebScheduler{
		surfaces: surfaces,
		deps:     deps.withDefaults(),
		timers:     make(map[uint32]*webTimer),
		delivering: make(map[uint32]uint64),
	}
}

func (s *WebScheduler) notificationBackend() {}

// Kind returns WebHost
func (s *WebScheduler) Kind() types.HostKind {
	return types.WebHost
}

// ScheduleOneShot arms a timer for n. A trigger that is not in the future is logged and skipped.
func (s *WebScheduler) ScheduleOneShot(ctx context.Context, n types.ScheduledNotification) error {
	n.Recurrence = types.RecurrenceNone
	s.arm(n, "schedule_once")
	return nil
}

// ScheduleDaily arms a timer for n that re-arms itself a day later after every delivery
func (s *WebScheduler) ScheduleDaily(ctx context.Context, n types.ScheduledNotification) error {
	n.Recurrence = types.RecurrenceDaily
	s.arm(n, "schedule_daily")
	return nil
}

// Cancel stops a pending timer. A daily notification being delivered is not
// re-armed. Unknown or already fired ids are ignored.
func (s *WebScheduler) Cancel(ctx context.Context, id uint32) error {
	s.mu.Lock()
	if t, ok := s.timers[id]; ok {
		t.timer.Stop()
		delete(s.timers, id)
	}
	delete(s.delivering, id)
	pending := len(s.timers)
	s.mu.Unlock()

	s.deps.Metrics.SetPendingTimers(pending)
	s.deps.Metrics.RecordNotification(string(types.WebHost), "cancel", true)
	return nil
}

// DisplayNow shows a notification on the first available surface, falling back
// from the background surface to the foreground one and then to the toast inbox.
func (s *WebScheduler) DisplayNow(ctx context.Context, title, body string, extras ...types.NotificationExtras) error {
	return s.display(ctx, interfaces.DisplayMessage{
		ID:     ephemeralID(),
		Title:  title,
		Body:   body,
		Extras: displayExtras(extras),
	})
}

// Pending returns the ids of armed timers in ascending order
func (s *WebScheduler) Pending() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]uint32, 0, len(s.timers))
	for id := range s.timers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Stop cancels every pending timer. Later schedule calls are ignored.
func (s *WebScheduler) Stop() {
	s.mu.Lock()
	for id, t := range s.timers {
		t.timer.Stop()
		delete(s.timers, id)
	}
	clear(s.delivering)
	s.stopped = true
	s.mu.Unlock()

	s.deps.Metrics.SetPendingTimers(0)
}

func (s *WebScheduler) arm(n types.ScheduledNotification, op string) {
	s.armIf(n, op, nil)
}

// armIf arms n when guard, checked under the lock, allows it
func (s *WebScheduler) armIf(n types.ScheduledNotification, op string, guard func() bool) {
	log := s.deps.Logger.WithComponent(webComponent).WithField("notification_id", n.ID)

	delay := n.TriggerAt.Sub(s.deps.Now())
	if delay <= 0 && !n.IsDaily() {
		log.WithField("trigger_at", n.TriggerAt).Debug("Skipping one-shot notification in the past")
		return
	}
	if n.IsDaily() {
		n.TriggerAt = nextDaily(n.TriggerAt, s.deps.Now())
		delay = n.TriggerAt.Sub(s.deps.Now())
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		log.Debug("Scheduler stopped, ignoring schedule call")
		return
	}
	if guard != nil && !guard() {
		s.mu.Unlock()
		log.Debug("Notification cancelled during delivery, not re-arming")
		return
	}
	if existing, ok := s.timers[n.ID]; ok {
		existing.timer.Stop()
	}
	delete(s.delivering, n.ID)
	s.gen++
	gen := s.gen
	s.timers[n.ID] = &webTimer{
		gen:   gen,
		n:     n,
		timer: time.AfterFunc(delay, func() { s.fire(n.ID, gen) }),
	}
	pending := len(s.timers)
	s.mu.Unlock()

	s.deps.Metrics.SetPendingTimers(pending)
	s.deps.Metrics.RecordNotification(string(types.WebHost), op, true)
	s.deps.Logger.Reminder(op, n.ID, map[string]interface{}{
		"kind":       string(n.Kind),
		"trigger_at": n.TriggerAt,
	})
}

// fire delivers the notification of a timer unless it was replaced or cancelled
// after the timer started running. A daily notification is re-armed only if no
// cancel or schedule call for its id happened during the delivery.
func (s *WebScheduler) fire(id uint32, gen uint64) {
	s.mu.Lock()
	t, ok := s.timers[id]
	if !ok || t.gen != gen {
		s.mu.Unlock()
		return
	}
	n := t.n
	delete(s.timers, id)
	s.delivering[id] = gen
	pending := len(s.timers)
	s.mu.Unlock()

	s.deps.Metrics.SetPendingTimers(pending)

	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()

	if err := s.display(ctx, interfaces.DisplayMessage{
		ID:     n.ID,
		Title:  n.Title,
		Body:   n.Body,
		Extras: n.Extras,
	}); err != nil {
		s.deps.suppress(webComponent, err, map[string]interface{}{"notification_id": n.ID})
	}

	if !n.IsDaily() {
		s.mu.Lock()
		if s.delivering[id] == gen {
			delete(s.delivering, id)
		}
		s.mu.Unlock()
		return
	}

	n.TriggerAt = n.TriggerAt.AddDate(0, 0, 1)
	s.armIf(n, "rearm_daily", func() bool { return s.delivering[id] == gen })
}

func (s *WebScheduler) display(ctx context.Context, msg interfaces.DisplayMessage) error {
	var errs []error
	for _, ns := range s.surfaces.ordered() {
		if ns.surface == nil || !ns.surface.Available() {
			continue
		}
		err := ns.surface.Show(ctx, msg)
		s.deps.Metrics.RecordNotification(string(types.WebHost), "display_"+ns.name, err == nil)
		if err == nil {
			return nil
		}
		s.deps.Logger.WithComponent(webComponent).
			WithField("surface", ns.name).
			WithError(err).
			Debug("Display surface failed, trying next")
		errs = append(errs, err)
	}
	return types.NewBackendUnreachableError("no display surface delivered the notification", msg.ID, errors.Join(errs...))
}

// nextDaily moves a daily trigger forward in whole days until it is after now
func nextDaily(trigger, now time.Time) time.Time {
	for !trigger.After(now) {
		trigger = trigger.AddDate(0, 0, 1)
	}
	return trigger
}
