package reminders

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/medrex/healthon/pkg/interfaces"
	"github.com/medrex/healthon/pkg/monitoring"
	"github.com/medrex/healthon/pkg/types"
)

const syncComponent = "synchronizer"

// PermissionGate reports whether scheduling is currently allowed
type PermissionGate interface {
	Granted(ctx context.Context) bool
}

// Synchronizer is the only writer of the scheduled notification set. Each pass
// reads the patient's records, derives the notifications they imply and brings
// the backend in line with them.
type Synchronizer struct {
	repo       interfaces.ReminderRepository
	backend    NotificationBackend
	permission PermissionGate
	ledger     interfaces.ScheduleLedger
	loc        *time.Location
	deps       Dependencies

	mu       sync.Mutex
	inFlight map[string]bool
	// previous holds the ids scheduled by the last pass, per patient and source kind
	previous map[string]map[types.SourceKind][]uint32
}

// NewSynchronizer creates a synchronizer. loc is the patient's time zone for
// wall-clock reminders; nil means local time.
func NewSynchronizer(
	repo interfaces.ReminderRepository,
	backend NotificationBackend,
	permission PermissionGate,
	loc *time.Location,
	deps Dependencies,
) *Synchronizer {
	return &Synchronizer{
		repo:       repo,
		backend:    backend,
		permission: permission,
		loc:        loc,
		deps:       deps.withDefaults(),
		inFlight:   make(map[string]bool),
		previous:   make(map[string]map[types.SourceKind][]uint32),
	}
}

// WithLedger persists the ids of every pass in ledger. The first pass for a
// patient starts from the ledger instead of an empty set.
func (s *Synchronizer) WithLedger(ledger interfaces.ScheduleLedger) *Synchronizer {
	s.ledger = ledger
	return s
}

// loadResult holds the records of one pass. Kinds in failed were not read.
type loadResult struct {
	appointments []types.AppointmentSource
	medications  []types.MedicationSource
	reminders    []types.GenericReminderSource
	labBookings  []types.LabBookingSource
	failed       map[types.SourceKind]bool
}

// Sync runs one pass for patientID. It never fails; the report describes what happened.
func (s *Synchronizer) Sync(ctx context.Context, patientID string) *types.SyncReport {
	start := s.deps.Now()
	report := &types.SyncReport{PatientID: patientID, StartedAt: start}

	ctx, span := monitoring.Tracer().Start(ctx, "reminders.sync",
		trace.WithAttributes(attribute.String("patient.id", patientID)))
	defer span.End()

	log := s.deps.Logger.WithComponent(syncComponent).WithField("patient_id", patientID)

	if !s.permission.Granted(ctx) {
		log.Debug("Notification permission not granted, skipping sync")
		return s.finish(span, report, types.SkipPermission)
	}

	if !s.begin(patientID) {
		log.Debug("Sync already running for patient, skipping")
		return s.finish(span, report, types.SkipInFlight)
	}
	defer s.end(patientID)

	loaded := s.load(ctx, patientID, start)
	produced := s.plan(patientID, loaded, start)

	current := make(map[types.SourceKind][]uint32)
	p := newPlanner(start, s.loc)
	for _, n := range produced {
		if p.expired(n) {
			report.Dropped++
			continue
		}
		current[n.Kind] = append(current[n.Kind], n.ID)

		var err error
		if n.IsDaily() {
			err = s.backend.ScheduleDaily(ctx, n)
		} else {
			err = s.backend.ScheduleOneShot(ctx, n)
		}
		if err != nil {
			s.deps.suppress(syncComponent, err, map[string]interface{}{
				"patient_id":      patientID,
				"notification_id": n.ID,
				"kind":            string(n.Kind),
			})
			continue
		}
		report.Scheduled = append(report.Scheduled, n.ID)
	}

	report.Cancelled = s.reconcile(ctx, patientID, current, loaded.failed)

	for _, kind := range types.LoadableSources {
		if loaded.failed[kind] {
			report.Failed = append(report.Failed, kind)
		}
	}

	span.SetAttributes(
		attribute.Int("reminders.scheduled", len(report.Scheduled)),
		attribute.Int("reminders.cancelled", len(report.Cancelled)),
		attribute.Int("reminders.dropped", report.Dropped),
	)
	log.WithField("scheduled", len(report.Scheduled)).
		WithField("cancelled", len(report.Cancelled)).
		WithField("dropped", report.Dropped).
		WithField("failed_sources", report.Failed).
		Info("Reminder sync completed")

	return s.finish(span, report, "")
}

func (s *Synchronizer) begin(patientID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[patientID] {
		return false
	}
	s.inFlight[patientID] = true
	return true
}

func (s *Synchronizer) end(patientID string) {
	s.mu.Lock()
	delete(s.inFlight, patientID)
	s.mu.Unlock()
}

func (s *Synchronizer) finish(span trace.Span, report *types.SyncReport, skipped string) *types.SyncReport {
	report.Skipped = skipped
	report.FinishedAt = s.deps.Now()

	outcome := "complete"
	switch {
	case skipped != "":
		outcome = "skipped_" + skipped
	case len(report.Failed) > 0:
		outcome = "partial"
	}
	span.SetAttributes(attribute.String("reminders.outcome", outcome))

	duration := report.FinishedAt.Sub(report.StartedAt)
	s.deps.Metrics.RecordSyncPass(outcome, duration)
	s.deps.Logger.Performance("reminders.sync", duration.Milliseconds(), map[string]interface{}{
		"patient_id": report.PatientID,
		"outcome":    outcome,
	})
	return report
}

// load reads the four record kinds concurrently. A failed read is logged and
// leaves that kind empty; it never cancels the other reads.
func (s *Synchronizer) load(ctx context.Context, patientID string, now time.Time) loadResult {
	res := loadResult{failed: make(map[types.SourceKind]bool)}
	var mu sync.Mutex

	fail := func(kind types.SourceKind, err error) {
		mu.Lock()
		res.failed[kind] = true
		mu.Unlock()
		s.deps.suppress(syncComponent, types.NewSourceReadError(kind, patientID, err), map[string]interface{}{
			"patient_id": patientID,
			"source":     string(kind),
		})
	}

	var g errgroup.Group

	g.Go(func() error {
		ctx, span := startLoadSpan(ctx, types.SourceAppointment)
		defer span.End()
		v, err := s.repo.GetUpcomingAppointments(ctx, patientID, now)
		if err != nil {
			monitoring.RecordError(span, err)
			fail(types.SourceAppointment, err)
			return nil
		}
		res.appointments = v
		return nil
	})

	g.Go(func() error {
		ctx, span := startLoadSpan(ctx, types.SourceMedication)
		defer span.End()
		v, err := s.repo.GetActivePrescriptions(ctx, patientID)
		if err != nil {
			monitoring.RecordError(span, err)
			fail(types.SourceMedication, err)
			return nil
		}
		res.medications = v
		return nil
	})

	g.Go(func() error {
		ctx, span := startLoadSpan(ctx, types.SourceReminder)
		defer span.End()
		v, err := s.repo.GetActiveReminders(ctx, patientID)
		if err != nil {
			monitoring.RecordError(span, err)
			fail(types.SourceReminder, err)
			return nil
		}
		res.reminders = v
		return nil
	})

	g.Go(func() error {
		ctx, span := startLoadSpan(ctx, types.SourceLabBooking)
		defer span.End()
		v, err := s.repo.GetUpcomingLabBookings(ctx, patientID, now)
		if err != nil {
			monitoring.RecordError(span, err)
			fail(types.SourceLabBooking, err)
			return nil
		}
		res.labBookings = v
		return nil
	})

	// every goroutine reports its own failure and returns nil
	_ = g.Wait()
	return res
}

func startLoadSpan(ctx context.Context, kind types.SourceKind) (context.Context, trace.Span) {
	return monitoring.Tracer().Start(ctx, "reminders.load_source",
		trace.WithAttributes(attribute.String("source.kind", string(kind))))
}

// plan derives the notifications of one pass in a fixed kind order. When two
// producers yield the same id the later one wins.
func (s *Synchronizer) plan(patientID string, loaded loadResult, now time.Time) []types.ScheduledNotification {
	p := newPlanner(now, s.loc)

	var all []types.ScheduledNotification
	for _, a := range loaded.appointments {
		all = append(all, p.appointment(a)...)
	}
	for _, m := range loaded.medications {
		all = append(all, p.medication(m)...)
	}
	for _, r := range loaded.reminders {
		ns, err := p.reminder(r)
		if err != nil {
			s.deps.suppress(syncComponent,
				types.NewValidationError(types.ErrCodeInvalidInput, err.Error(), map[string]interface{}{"reminder_id": r.ID}),
				map[string]interface{}{"patient_id": patientID, "reminder_id": r.ID})
			continue
		}
		all = append(all, ns...)
	}
	for _, l := range loaded.labBookings {
		all = append(all, p.labBooking(l)...)
	}
	all = append(all, p.vitals())

	index := make(map[uint32]int, len(all))
	out := make([]types.ScheduledNotification, 0, len(all))
	for _, n := range all {
		if i, ok := index[n.ID]; ok {
			out[i] = n
			continue
		}
		index[n.ID] = len(out)
		out = append(out, n)
	}
	return out
}

// reconcile cancels ids that the previous pass scheduled but this pass no
// longer produces. Kinds that failed to load keep their previous ids.
func (s *Synchronizer) reconcile(
	ctx context.Context,
	patientID string,
	current map[types.SourceKind][]uint32,
	failed map[types.SourceKind]bool,
) []uint32 {
	previous, ok := s.previousFor(ctx, patientID)

	var cancelled []uint32
	for kind, ids := range previous {
		if failed[kind] {
			current[kind] = ids
			continue
		}
		keep := make(map[uint32]bool, len(current[kind]))
		for _, id := range current[kind] {
			keep[id] = true
		}
		for _, id := range ids {
			if keep[id] {
				continue
			}
			if err := s.backend.Cancel(ctx, id); err != nil {
				s.deps.suppress(syncComponent, err, map[string]interface{}{
					"patient_id":      patientID,
					"notification_id": id,
				})
				// retry on the next pass
				current[kind] = append(current[kind], id)
				continue
			}
			cancelled = append(cancelled, id)
		}
	}

	sort.Slice(cancelled, func(i, j int) bool { return cancelled[i] < cancelled[j] })

	// an unreadable ledger is left untouched so the next pass can retry it
	if !ok {
		return cancelled
	}

	s.mu.Lock()
	s.previous[patientID] = current
	s.mu.Unlock()

	if s.ledger != nil {
		if err := s.ledger.SaveScheduled(ctx, patientID, current); err != nil {
			s.deps.suppress(syncComponent, types.NewInternalError(types.ErrCodeInternalError, "failed to persist scheduled ids", err),
				map[string]interface{}{"patient_id": patientID})
		}
	}
	return cancelled
}

// previousFor returns the ids the last pass left scheduled for patientID. ok
// is false when they are unknown because the ledger could not be read.
func (s *Synchronizer) previousFor(ctx context.Context, patientID string) (map[types.SourceKind][]uint32, bool) {
	s.mu.Lock()
	previous, cached := s.previous[patientID]
	s.mu.Unlock()
	if cached || s.ledger == nil {
		return previous, true
	}

	stored, err := s.ledger.LoadScheduled(ctx, patientID)
	if err != nil {
		s.deps.suppress(syncComponent, types.NewInternalError(types.ErrCodeInternalError, "failed to load scheduled ids", err),
			map[string]interface{}{"patient_id": patientID})
		return nil, false
	}
	return stored, true
}
