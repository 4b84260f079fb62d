package reminders

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/medrex/healthon/pkg/interfaces"
	"github.com/medrex/healthon/pkg/types"
)

const proximityComponent = "proximity"

// DefaultJoinWindow is how long before a video visit the join prompt appears
const DefaultJoinWindow = types.DefaultJoinWindow

// ProximityConfig tunes the band boundaries
type ProximityConfig struct {
	JoinWindow time.Duration
	Location   *time.Location
}

// ProximityEngine classifies upcoming appointments into bands and emits each
// (appointment, band) alert at most once per session. With a FiredLog it also
// remembers fired bands across restarts and tabs.
type ProximityEngine struct {
	cfg      ProximityConfig
	firedLog interfaces.FiredLog
	deps     Dependencies

	mu    sync.Mutex
	fired map[string]struct{}
}

// NewProximityEngine creates an engine. firedLog may be nil for session-only tracking.
func NewProximityEngine(cfg ProximityConfig, firedLog interfaces.FiredLog, deps Dependencies) *ProximityEngine {
	if cfg.JoinWindow <= 0 {
		cfg.JoinWindow = DefaultJoinWindow
	}
	if cfg.JoinWindow < types.VideoVisitReminderLead {
		cfg.JoinWindow = types.VideoVisitReminderLead
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &ProximityEngine{
		cfg:      cfg,
		firedLog: firedLog,
		deps:     deps.withDefaults(),
		fired:    make(map[string]struct{}),
	}
}

// Classify returns the single band an appointment falls into at now, if any.
// Precedence is join-now, then hour-before, then day-before.
func (e *ProximityEngine) Classify(a types.AppointmentSource, now time.Time) (types.Band, bool) {
	if !a.IsActive() {
		return "", false
	}
	until := a.ScheduledAt.Sub(now)
	switch {
	case until <= 0:
		return "", false
	case a.IsTelemedicine && until <= e.cfg.JoinWindow:
		return types.BandJoinNow, true
	case until <= time.Hour:
		return types.BandHourBefore, true
	case until > 23*time.Hour && until <= 24*time.Hour:
		return types.BandDayBefore, true
	}
	return "", false
}

// Evaluate returns the alerts that newly entered a band at now
func (e *ProximityEngine) Evaluate(ctx context.Context, appointments []types.AppointmentSource, now time.Time) []types.Alert {
	var alerts []types.Alert
	for _, a := range appointments {
		band, ok := e.Classify(a, now)
		if !ok {
			continue
		}
		key := FiredKey(a.ID, band)
		if !e.claim(ctx, key, now) {
			continue
		}
		alerts = append(alerts, e.alert(a, band, now))
		e.deps.Metrics.RecordProximityAlert(string(band))
	}
	return alerts
}

// Reset discards the session set. The persisted log, if any, is kept.
func (e *ProximityEngine) Reset() {
	e.mu.Lock()
	e.fired = make(map[string]struct{})
	e.mu.Unlock()
}

// claim marks key as fired for the session and the persisted log. It returns
// false when either already had it. A failing log falls back to the session set.
func (e *ProximityEngine) claim(ctx context.Context, key string, now time.Time) bool {
	e.mu.Lock()
	if _, seen := e.fired[key]; seen {
		e.mu.Unlock()
		return false
	}
	e.fired[key] = struct{}{}
	e.mu.Unlock()

	if e.firedLog == nil {
		return true
	}
	first, err := e.firedLog.MarkFired(ctx, key, now)
	if err != nil {
		e.deps.suppress(proximityComponent,
			types.NewInternalError(types.ErrCodeInternalError, "fired log unavailable", err),
			map[string]interface{}{"key": key})
		return true
	}
	return first
}

func (e *ProximityEngine) alert(a types.AppointmentSource, band types.Band, now time.Time) types.Alert {
	who := strings.TrimSpace(a.CounterpartyName)
	if who == "" {
		who = "your doctor"
	}
	at := a.ScheduledAt.In(e.cfg.Location).Format("3:04 PM")

	alert := types.Alert{
		AppointmentID: a.ID,
		Band:          band,
		FiredAt:       now,
		Action:        "/appointments/" + a.ID,
	}
	switch band {
	case types.BandDayBefore:
		alert.Title = "Appointment tomorrow"
		alert.Body = fmt.Sprintf("Your appointment with %s is tomorrow at %s.", who, at)
	case types.BandHourBefore:
		alert.Title = "Appointment within the hour"
		alert.Body = fmt.Sprintf("Your appointment with %s starts at %s.", who, at)
	case types.BandJoinNow:
		alert.Title = "Join your video consultation"
		alert.Body = fmt.Sprintf("%s is ready for your video visit at %s.", capitalize(who), at)
		alert.Action = "/telemedicine/" + a.ID
	}
	return alert
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
