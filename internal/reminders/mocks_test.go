package reminders

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/mock"

	"github.com/medrex/healthon/pkg/interfaces"
	"github.com/medrex/healthon/pkg/logger"
	"github.com/medrex/healthon/pkg/monitoring"
	"github.com/medrex/healthon/pkg/types"
)

// MockReminderRepository is a mock implementation of ReminderRepository
type MockReminderRepository struct {
	mock.Mock
}

func (m *MockReminderRepository) GetUpcomingAppointments(ctx context.Context, patientID string, from time.Time) ([]types.AppointmentSource, error) {
	args := m.Called(ctx, patientID, from)
	return args.Get(0).([]types.AppointmentSource), args.Error(1)
}

func (m *MockReminderRepository) GetActivePrescriptions(ctx context.Context, patientID string) ([]types.MedicationSource, error) {
	args := m.Called(ctx, patientID)
	return args.Get(0).([]types.MedicationSource), args.Error(1)
}

func (m *MockReminderRepository) GetActiveReminders(ctx context.Context, patientID string) ([]types.GenericReminderSource, error) {
	args := m.Called(ctx, patientID)
	return args.Get(0).([]types.GenericReminderSource), args.Error(1)
}

func (m *MockReminderRepository) GetUpcomingLabBookings(ctx context.Context, patientID string, from time.Time) ([]types.LabBookingSource, error) {
	args := m.Called(ctx, patientID, from)
	return args.Get(0).([]types.LabBookingSource), args.Error(1)
}

// MockPrompter is a mock implementation of PermissionPrompter
type MockPrompter struct {
	mock.Mock
}

func (m *MockPrompter) RequestPermission(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

// MockNativeBridge is a mock implementation of NativeBridge
type MockNativeBridge struct {
	mock.Mock
}

func (m *MockNativeBridge) RequestPermission(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *MockNativeBridge) Schedule(ctx context.Context, n types.ScheduledNotification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

func (m *MockNativeBridge) Cancel(ctx context.Context, id uint32) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// MockPermissionStore is a mock implementation of PermissionStore
type MockPermissionStore struct {
	mock.Mock
}

func (m *MockPermissionStore) LoadPermission(ctx context.Context) (types.PermissionState, error) {
	args := m.Called(ctx)
	return args.Get(0).(types.PermissionState), args.Error(1)
}

func (m *MockPermissionStore) SavePermission(ctx context.Context, state types.PermissionState) error {
	args := m.Called(ctx, state)
	return args.Error(0)
}

// memoryPermissionStore keeps the permission state in memory
type memoryPermissionStore struct {
	mu    sync.Mutex
	state types.PermissionState
	saves int
}

func (s *memoryPermissionStore) LoadPermission(ctx context.Context) (types.PermissionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, nil
}

func (s *memoryPermissionStore) SavePermission(ctx context.Context, state types.PermissionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	s.saves++
	return nil
}

// fakeSurface records the messages it was asked to show
type fakeSurface struct {
	mu        sync.Mutex
	available bool
	err       error
	shown     []interfaces.DisplayMessage
}

func (f *fakeSurface) Available() bool {
	return f.available
}

func (f *fakeSurface) Show(ctx context.Context, msg interfaces.DisplayMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.shown = append(f.shown, msg)
	return nil
}

func (f *fakeSurface) Shown() []interfaces.DisplayMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]interfaces.DisplayMessage(nil), f.shown...)
}

// blockingSurface holds every Show until release is closed
type blockingSurface struct {
	fakeSurface
	started chan uint32
	release chan struct{}
}

func newBlockingSurface() *blockingSurface {
	return &blockingSurface{
		fakeSurface: fakeSurface{available: true},
		started:     make(chan uint32, 4),
		release:     make(chan struct{}),
	}
}

func (b *blockingSurface) Show(ctx context.Context, msg interfaces.DisplayMessage) error {
	b.started <- msg.ID
	select {
	case <-b.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return b.fakeSurface.Show(ctx, msg)
}

// recordingBackend is an in-memory NotificationBackend keyed by id
type recordingBackend struct {
	mu        sync.Mutex
	kind      types.HostKind
	pending   map[uint32]types.ScheduledNotification
	cancelled []uint32
	displayed []string
	failIDs   map[uint32]bool
}

func newRecordingBackend() *recordingBackend {
	return &recordingBackend{
		kind:    types.NativeHost,
		pending: make(map[uint32]types.ScheduledNotification),
		failIDs: make(map[uint32]bool),
	}
}

func (b *recordingBackend) Kind() types.HostKind { return b.kind }

func (b *recordingBackend) ScheduleOneShot(ctx context.Context, n types.ScheduledNotification) error {
	return b.put(n)
}

func (b *recordingBackend) ScheduleDaily(ctx context.Context, n types.ScheduledNotification) error {
	return b.put(n)
}

func (b *recordingBackend) put(n types.ScheduledNotification) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failIDs[n.ID] {
		return types.NewBackendUnreachableError("bridge offline", n.ID, nil)
	}
	b.pending[n.ID] = n
	return nil
}

func (b *recordingBackend) DisplayNow(ctx context.Context, title, body string, extras ...types.NotificationExtras) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.displayed = append(b.displayed, title)
	return nil
}

func (b *recordingBackend) Cancel(ctx context.Context, id uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pending, id)
	b.cancelled = append(b.cancelled, id)
	return nil
}

func (b *recordingBackend) notificationBackend() {}

func (b *recordingBackend) Pending() map[uint32]types.ScheduledNotification {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[uint32]types.ScheduledNotification, len(b.pending))
	for id, n := range b.pending {
		out[id] = n
	}
	return out
}

// MockScheduleLedger is a mock implementation of ScheduleLedger
type MockScheduleLedger struct {
	mock.Mock
}

func (m *MockScheduleLedger) LoadScheduled(ctx context.Context, patientID string) (map[types.SourceKind][]uint32, error) {
	args := m.Called(ctx, patientID)
	ids, _ := args.Get(0).(map[types.SourceKind][]uint32)
	return ids, args.Error(1)
}

func (m *MockScheduleLedger) SaveScheduled(ctx context.Context, patientID string, ids map[types.SourceKind][]uint32) error {
	return m.Called(ctx, patientID, ids).Error(0)
}

// grantedGate is a PermissionGate with a fixed answer
type grantedGate bool

func (g grantedGate) Granted(ctx context.Context) bool { return bool(g) }

// testDeps returns quiet dependencies with a fixed clock and a private metrics registry
func testDeps(now time.Time) Dependencies {
	return Dependencies{
		Logger:  logger.NewWithOutput("debug", io.Discard),
		Metrics: monitoring.NewNopMetrics(),
		Now:     func() time.Time { return now },
	}
}

// hookedDeps is testDeps with a logrus hook capturing log entries
func hookedDeps(now time.Time) (Dependencies, *test.Hook) {
	l, hook := test.NewNullLogger()
	l.SetLevel(logrus.DebugLevel)
	deps := testDeps(now)
	deps.Logger = logger.FromLogrus(l)
	return deps, hook
}

// suppressedEntries returns the captured entries logged through Logger.Suppressed
func suppressedEntries(hook *test.Hook) []*logrus.Entry {
	var out []*logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Data["suppressed"] == true {
			out = append(out, e)
		}
	}
	return out
}
