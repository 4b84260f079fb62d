package reminders

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// ClockTime is a wall-clock time of day
type ClockTime struct {
	Hour   int
	Minute int
}

// String formats the time as HH:MM
func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// ParseClockTime parses "HH:MM" (24h)
func ParseClockTime(s string) (ClockTime, error) {
	var c ClockTime
	s = strings.TrimSpace(s)
	if len(s) < 4 || len(s) > 5 {
		return c, fmt.Errorf("invalid time of day %q", s)
	}
	if _, err := fmt.Sscanf(s, "%d:%d", &c.Hour, &c.Minute); err != nil {
		return c, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	if c.Hour < 0 || c.Hour > 23 || c.Minute < 0 || c.Minute > 59 {
		return c, fmt.Errorf("time of day out of range %q", s)
	}
	return c, nil
}

var (
	// DefaultMedicationSlot is used when instructions name no time of day
	DefaultMedicationSlot = ClockTime{Hour: 9}

	// VitalsSlot is the fixed daily vitals check-in
	VitalsSlot = ClockTime{Hour: 8}

	// LabBookingSlot is the reminder time on the day of a lab test
	LabBookingSlot = ClockTime{Hour: 8}

	medicationSlots = map[string]ClockTime{
		"morning":   {Hour: 8},
		"afternoon": {Hour: 14},
		"evening":   {Hour: 19},
		"night":     {Hour: 22},
	}

	medicationKeyword = regexp.MustCompile(`\b(morning|afternoon|evening|night)\b`)
)

// MedicationSlots resolves free-text dosing instructions into daily reminder
// times, earliest first. Text without a recognised keyword yields the default slot.
func MedicationSlots(instructions string) []ClockTime {
	matches := medicationKeyword.FindAllString(strings.ToLower(instructions), -1)
	if len(matches) == 0 {
		return []ClockTime{DefaultMedicationSlot}
	}

	seen := make(map[string]bool, len(matches))
	slots := make([]ClockTime, 0, len(matches))
	for _, m := range matches {
		if seen[m] {
			continue
		}
		seen[m] = true
		slots = append(slots, medicationSlots[m])
	}

	sort.Slice(slots, func(i, j int) bool {
		if slots[i].Hour != slots[j].Hour {
			return slots[i].Hour < slots[j].Hour
		}
		return slots[i].Minute < slots[j].Minute
	})
	return slots
}
