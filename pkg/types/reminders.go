package types

import "time"

// SourceKind identifies the domain record family a notification was derived from
type SourceKind string

const (
	SourceAppointment SourceKind = "appointment"
	SourceMedication  SourceKind = "medication"
	SourceReminder    SourceKind = "reminder"
	SourceLabBooking  SourceKind = "lab_booking"
	SourceVitals      SourceKind = "vitals"
)

// VideoVisitReminderLead is how long before a video visit its scheduled join
// reminder fires
const VideoVisitReminderLead = 15 * time.Minute

// DefaultJoinWindow is how long before a video visit the in-session join prompt
// appears. A join window never starts after the scheduled join reminder.
const DefaultJoinWindow = 2 * VideoVisitReminderLead

// LoadableSources are the source kinds read from the record store on every sync pass
var LoadableSources = []SourceKind{
	SourceAppointment,
	SourceMedication,
	SourceReminder,
	SourceLabBooking,
}

// AppointmentSource is a read-only view over an appointment record
type AppointmentSource struct {
	ID               string    `json:"id" db:"id"`
	PatientID        string    `json:"patient_id" db:"patient_id"`
	ScheduledAt      time.Time `json:"scheduled_at" db:"scheduled_at"`
	IsTelemedicine   bool      `json:"is_telemedicine" db:"is_telemedicine"`
	CounterpartyName string    `json:"counterparty_name" db:"counterparty_name"`
	Status           string    `json:"status" db:"status"`
}

// IsActive reports whether the appointment can still take place
func (a AppointmentSource) IsActive() bool {
	switch AppointmentStatus(a.Status) {
	case StatusCancelled, StatusCompleted, StatusNoShow:
		return false
	}
	return true
}

// MedicationSource is a read-only view over a prescription record
type MedicationSource struct {
	PrescriptionID  string    `json:"prescription_id" db:"id"`
	DrugName        string    `json:"drug_name" db:"drug_name"`
	InstructionText string    `json:"instruction_text" db:"instructions"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// GenericReminderSource is a read-only view over a patient-defined reminder
type GenericReminderSource struct {
	ID          string `json:"id" db:"id"`
	Title       string `json:"title" db:"title"`
	Description string `json:"description" db:"description"`
	TimeOfDay   string `json:"time_of_day" db:"time_of_day"`
	IsActive    bool   `json:"is_active" db:"is_active"`
}

// LabBookingStatus represents lab booking status values
type LabBookingStatus string

const (
	LabBookingPending   LabBookingStatus = "pending"
	LabBookingConfirmed LabBookingStatus = "confirmed"
	LabBookingCompleted LabBookingStatus = "completed"
	LabBookingCancelled LabBookingStatus = "cancelled"
)

// LabBookingSource is a read-only view over a lab test booking
type LabBookingSource struct {
	ID       string    `json:"id" db:"id"`
	TestType string    `json:"test_type" db:"test_type"`
	LabName  string    `json:"lab_name" db:"lab_name"`
	TestDate time.Time `json:"test_date" db:"test_date"`
	Status   string    `json:"status" db:"status"`
}

// IsActive reports whether the booking still needs a reminder
func (l LabBookingSource) IsActive() bool {
	switch LabBookingStatus(l.Status) {
	case LabBookingCancelled, LabBookingCompleted:
		return false
	}
	return true
}

// Recurrence describes how a scheduled notification repeats
type Recurrence string

const (
	RecurrenceNone  Recurrence = "none"
	RecurrenceDaily Recurrence = "daily"
)

// NotificationExtras carries optional delivery hints. Backends may ignore any of them.
type NotificationExtras struct {
	Icon    string `json:"icon,omitempty"`
	URL     string `json:"url,omitempty"`
	Vibrate []int  `json:"vibrate,omitempty"`
}

// ScheduledNotification is the unit a notification backend tracks.
// ID is derived from the source identity and is the idempotency key.
type ScheduledNotification struct {
	ID         uint32             `json:"id"`
	Kind       SourceKind         `json:"kind"`
	SourceID   string             `json:"source_id"`
	Title      string             `json:"title"`
	Body       string             `json:"body"`
	TriggerAt  time.Time          `json:"trigger_at"`
	Recurrence Recurrence         `json:"recurrence"`
	Extras     NotificationExtras `json:"extras,omitempty"`
}

// IsDaily reports whether the notification repeats every day
func (n ScheduledNotification) IsDaily() bool {
	return n.Recurrence == RecurrenceDaily
}

// PermissionStatus is the tri-state notification permission
type PermissionStatus string

const (
	PermissionUnrequested PermissionStatus = "unrequested"
	PermissionGranted     PermissionStatus = "granted"
	PermissionDenied      PermissionStatus = "denied"
)

// PermissionState is persisted across restarts
type PermissionState struct {
	Status              PermissionStatus `json:"status"`
	UserDismissedPrompt bool             `json:"user_dismissed_prompt"`
	UpdatedAt           time.Time        `json:"updated_at"`
}

// HostKind identifies the delivery backend family of the current runtime
type HostKind string

const (
	NativeHost HostKind = "native"
	WebHost    HostKind = "web"
)

// Band is a named time-until-event interval used for proximity alerts
type Band string

const (
	BandDayBefore  Band = "day-before"
	BandHourBefore Band = "hour-before"
	BandJoinNow    Band = "join-now"
)

// Alert is an ephemeral, session-local proximity nudge
type Alert struct {
	AppointmentID string    `json:"appointment_id"`
	Band          Band      `json:"band"`
	Title         string    `json:"title"`
	Body          string    `json:"body"`
	Action        string    `json:"action,omitempty"`
	FiredAt       time.Time `json:"fired_at"`
}

// SyncReport summarises one synchronizer pass
type SyncReport struct {
	PatientID  string       `json:"patient_id"`
	Scheduled  []uint32     `json:"scheduled"`
	Cancelled  []uint32     `json:"cancelled"`
	Dropped    int          `json:"dropped"`
	Failed     []SourceKind `json:"failed,omitempty"`
	Skipped    string       `json:"skipped,omitempty"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
}

// Sync skip reasons
const (
	SkipPermission = "permission"
	SkipInFlight   = "in_flight"
)
