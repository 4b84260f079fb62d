package interfaces

import (
	"context"
	"time"

	"github.com/medrex/healthon/pkg/types"
)

// ReminderRepository is the read-only view of the record store used by the synchronizer.
// Every query returns forward-looking, non-cancelled records only.
type ReminderRepository interface {
	GetUpcomingAppointments(ctx context.Context, patientID string, from time.Time) ([]types.AppointmentSource, error)
	GetActivePrescriptions(ctx context.Context, patientID string) ([]types.MedicationSource, error)
	GetActiveReminders(ctx context.Context, patientID string) ([]types.GenericReminderSource, error)
	GetUpcomingLabBookings(ctx context.Context, patientID string, from time.Time) ([]types.LabBookingSource, error)
}

// PermissionStore persists the process-wide permission state
type PermissionStore interface {
	LoadPermission(ctx context.Context) (types.PermissionState, error)
	SavePermission(ctx context.Context, state types.PermissionState) error
}

// ScheduleLedger persists the notification ids a sync pass left scheduled,
// per patient and source kind, so a restarted agent can still cancel them
type ScheduleLedger interface {
	LoadScheduled(ctx context.Context, patientID string) (map[types.SourceKind][]uint32, error)
	SaveScheduled(ctx context.Context, patientID string, ids map[types.SourceKind][]uint32) error
}

// FiredLog records which (source, band) pairs already fired.
// MarkFired returns first=true only for the call that recorded the key.
type FiredLog interface {
	MarkFired(ctx context.Context, key string, firedAt time.Time) (first bool, err error)
}

// PermissionPrompter shows the host permission dialog and reports the user's answer.
// Hosts without any notification capability return types.ErrPermissionUnavailable.
type PermissionPrompter interface {
	RequestPermission(ctx context.Context) (bool, error)
}

// NativeBridge is the host OS scheduling primitive of a native runtime.
// Schedule replaces any pending notification with the same id.
type NativeBridge interface {
	PermissionPrompter
	Schedule(ctx context.Context, n types.ScheduledNotification) error
	Cancel(ctx context.Context, id uint32) error
}

// DisplayMessage is what a display surface renders. Only Title and Body are required.
type DisplayMessage struct {
	ID     uint32                   `json:"id,omitempty"`
	Title  string                   `json:"title"`
	Body   string                   `json:"body"`
	Extras types.NotificationExtras `json:"extras,omitempty"`
}

// DisplaySurface delivers a notification immediately
type DisplaySurface interface {
	Available() bool
	Show(ctx context.Context, msg DisplayMessage) error
}

// DeviceTokenRegistry stores the push token of the current device or browser.
// Token returns an empty string when nothing is registered.
type DeviceTokenRegistry interface {
	SetToken(ctx context.Context, token string) error
	Token() string
}
