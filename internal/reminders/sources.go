package reminders

import (
	"fmt"
	"strings"
	"time"

	"github.com/medrex/healthon/pkg/types"
)

// Appointment reminder offsets. The join reminder only applies to video visits.
const (
	dayBeforeOffset    = 24 * time.Hour
	hourBeforeOffset   = time.Hour
	joinReminderOffset = types.VideoVisitReminderLead
)

// planner turns domain sources into scheduled notifications relative to one instant
type planner struct {
	now time.Time
	loc *time.Location
}

func newPlanner(now time.Time, loc *time.Location) planner {
	if loc == nil {
		loc = time.Local
	}
	return planner{now: now, loc: loc}
}

// nextOccurrence returns the next instant strictly after now at the given wall-clock time
func (p planner) nextOccurrence(slot ClockTime) time.Time {
	local := p.now.In(p.loc)
	t := time.Date(local.Year(), local.Month(), local.Day(), slot.Hour, slot.Minute, 0, 0, p.loc)
	if !t.After(p.now) {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

func (p planner) clock(t time.Time) string {
	return t.In(p.loc).Format("3:04 PM")
}

// appointment produces the 24h, 1h and (for video visits) 15 minute alerts
func (p planner) appointment(a types.AppointmentSource) []types.ScheduledNotification {
	if !a.IsActive() {
		return nil
	}

	who := strings.TrimSpace(a.CounterpartyName)
	if who == "" {
		who = "your doctor"
	}
	url := "/appointments/" + a.ID

	out := []types.ScheduledNotification{
		{
			ID:        NotificationID(types.SourceAppointment, a.ID, "24h"),
			Kind:      types.SourceAppointment,
			SourceID:  a.ID,
			Title:     "Appointment tomorrow",
			Body:      fmt.Sprintf("Your appointment with %s is tomorrow at %s.", who, p.clock(a.ScheduledAt)),
			TriggerAt: a.ScheduledAt.Add(-dayBeforeOffset),
			Extras:    types.NotificationExtras{URL: url},
		},
		{
			ID:        NotificationID(types.SourceAppointment, a.ID, "1h"),
			Kind:      types.SourceAppointment,
			SourceID:  a.ID,
			Title:     "Appointment in 1 hour",
			Body:      fmt.Sprintf("Your appointment with %s starts at %s.", who, p.clock(a.ScheduledAt)),
			TriggerAt: a.ScheduledAt.Add(-hourBeforeOffset),
			Extras:    types.NotificationExtras{URL: url},
		},
	}

	if a.IsTelemedicine {
		out = append(out, types.ScheduledNotification{
			ID:        NotificationID(types.SourceAppointment, a.ID, "15m"),
			Kind:      types.SourceAppointment,
			SourceID:  a.ID,
			Title:     "Video consultation starting soon",
			Body:      fmt.Sprintf("Your video visit with %s starts in %d minutes.", who, int(joinReminderOffset/time.Minute)),
			TriggerAt: a.ScheduledAt.Add(-joinReminderOffset),
			Extras:    types.NotificationExtras{URL: "/telemedicine/" + a.ID, Vibrate: []int{200, 100, 200}},
		})
	}

	for i := range out {
		out[i].Recurrence = types.RecurrenceNone
	}
	return out
}

// medication produces one daily alert per resolved time slot
func (p planner) medication(m types.MedicationSource) []types.ScheduledNotification {
	body := fmt.Sprintf("Time to take %s.", m.DrugName)
	if instr := strings.TrimSpace(m.InstructionText); instr != "" {
		body = fmt.Sprintf("Time to take %s. %s", m.DrugName, instr)
	}

	slots := MedicationSlots(m.InstructionText)
	out := make([]types.ScheduledNotification, 0, len(slots))
	for _, slot := range slots {
		out = append(out, types.ScheduledNotification{
			ID:         NotificationID(types.SourceMedication, m.PrescriptionID, slot.String()),
			Kind:       types.SourceMedication,
			SourceID:   m.PrescriptionID,
			Title:      "Medication reminder",
			Body:       body,
			TriggerAt:  p.nextOccurrence(slot),
			Recurrence: types.RecurrenceDaily,
			Extras:     types.NotificationExtras{URL: "/prescriptions"},
		})
	}
	return out
}

// reminder produces one alert at the next occurrence of the reminder's time of day.
// It is not recurring; the next sync pass rolls it forward again.
func (p planner) reminder(r types.GenericReminderSource) ([]types.ScheduledNotification, error) {
	if !r.IsActive {
		return nil, nil
	}
	slot, err := ParseClockTime(r.TimeOfDay)
	if err != nil {
		return nil, err
	}

	body := strings.TrimSpace(r.Description)
	if body == "" {
		body = "You have a reminder scheduled for now."
	}

	return []types.ScheduledNotification{{
		ID:         NotificationID(types.SourceReminder, r.ID, "next"),
		Kind:       types.SourceReminder,
		SourceID:   r.ID,
		Title:      r.Title,
		Body:       body,
		TriggerAt:  p.nextOccurrence(slot),
		Recurrence: types.RecurrenceNone,
		Extras:     types.NotificationExtras{URL: "/reminders"},
	}}, nil
}

// labBooking produces one alert at 08:00 on the test date
func (p planner) labBooking(l types.LabBookingSource) []types.ScheduledNotification {
	if !l.IsActive() {
		return nil
	}

	y, m, d := l.TestDate.Date()
	trigger := time.Date(y, m, d, LabBookingSlot.Hour, LabBookingSlot.Minute, 0, 0, p.loc)

	body := fmt.Sprintf("Your %s is scheduled for today.", l.TestType)
	if l.LabName != "" {
		body = fmt.Sprintf("Your %s at %s is scheduled for today.", l.TestType, l.LabName)
	}

	return []types.ScheduledNotification{{
		ID:         NotificationID(types.SourceLabBooking, l.ID, "test-day"),
		Kind:       types.SourceLabBooking,
		SourceID:   l.ID,
		Title:      "Lab test today",
		Body:       body,
		TriggerAt:  trigger,
		Recurrence: types.RecurrenceNone,
		Extras:     types.NotificationExtras{URL: "/lab-bookings"},
	}}
}

// vitals is the fixed daily check-in, present regardless of other data
func (p planner) vitals() types.ScheduledNotification {
	return types.ScheduledNotification{
		ID:         NotificationID(types.SourceVitals, "daily", VitalsSlot.String()),
		Kind:       types.SourceVitals,
		SourceID:   "daily",
		Title:      "Daily vitals check-in",
		Body:       "Take a minute to log today's vitals.",
		TriggerAt:  p.nextOccurrence(VitalsSlot),
		Recurrence: types.RecurrenceDaily,
		Extras:     types.NotificationExtras{URL: "/vitals"},
	}
}

// expired reports whether a one-shot notification can no longer be delivered
func (p planner) expired(n types.ScheduledNotification) bool {
	return !n.IsDaily() && !n.TriggerAt.After(p.now)
}
