// Package reminders turns appointments, prescriptions, lab bookings and patient
// reminders into timed notifications and keeps the pending set in step with the
// record store.
package reminders

import (
	"time"

	"github.com/medrex/healthon/pkg/logger"
	"github.com/medrex/healthon/pkg/monitoring"
	"github.com/medrex/healthon/pkg/types"
)

// Dependencies are the ambient collaborators shared by the reminder components
type Dependencies struct {
	Logger  *logger.Logger
	Metrics *monitoring.MetricsCollector
	// Now is the clock; tests replace it with a fixed instant
	Now func() time.Time
}

func (d Dependencies) withDefaults() Dependencies {
	if d.Logger == nil {
		d.Logger = logger.New("info")
	}
	if d.Metrics == nil {
		d.Metrics = monitoring.NewNopMetrics()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

// suppress logs and counts a failure that is not returned to the caller
func (d Dependencies) suppress(component string, err error, details map[string]interface{}) {
	errType := string(types.TypeOf(err))
	d.Logger.Suppressed(component, errType, err, details)
	d.Metrics.RecordSuppressedError(errType, component)
}
