package delivery

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/medrex/healthon/pkg/interfaces"
	"github.com/medrex/healthon/pkg/logger"
	"github.com/medrex/healthon/pkg/monitoring"
)

type dailyLookup interface {
	Active(ctx context.Context, id uint32) (bool, error)
}

// Worker processes due reminder tasks and hands them to a display surface
type Worker struct {
	surface interfaces.DisplaySurface
	daily   dailyLookup
	logger  *logger.Logger
	metrics *monitoring.MetricsCollector
}

// NewWorker creates a worker delivering through surface
func NewWorker(surface interfaces.DisplaySurface, log *logger.Logger, metrics *monitoring.MetricsCollector) *Worker {
	return &Worker{surface: surface, logger: log, metrics: metrics}
}

// WithDailyRegistry makes the worker drop daily reminders that were removed
// after the periodic task manager last synced
func (w *Worker) WithDailyRegistry(daily dailyLookup) *Worker {
	w.daily = daily
	return w
}

// Register adds the reminder handler to mux
func (w *Worker) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeReminderFire, w.HandleReminderTask)
}

// HandleReminderTask delivers one due reminder. Undecodable payloads and
// devices without a push token are not retried.
func (w *Worker) HandleReminderTask(ctx context.Context, task *asynq.Task) error {
	var p ReminderPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		w.logger.WithComponent("worker").WithError(err).Error("Invalid reminder payload")
		return fmt.Errorf("invalid reminder payload: %v: %w", err, asynq.SkipRetry)
	}
	n := p.Notification

	if n.IsDaily() && w.daily != nil {
		active, err := w.daily.Active(ctx, n.ID)
		if err != nil {
			return err
		}
		if !active {
			w.logger.WithComponent("worker").
				WithField("notification_id", n.ID).
				Debug("Daily reminder was cancelled, not delivering")
			return nil
		}
	}

	if !w.surface.Available() {
		w.metrics.RecordNotification("worker", "deliver", false)
		w.logger.WithComponent("worker").
			WithField("notification_id", n.ID).
			Warn("No delivery surface available, dropping reminder")
		return fmt.Errorf("no delivery surface for reminder %d: %w", n.ID, asynq.SkipRetry)
	}

	err := w.surface.Show(ctx, interfaces.DisplayMessage{
		ID:     n.ID,
		Title:  n.Title,
		Body:   n.Body,
		Extras: n.Extras,
	})
	w.metrics.RecordNotification("worker", "deliver", err == nil)
	if err != nil {
		w.logger.WithComponent("worker").
			WithField("notification_id", n.ID).
			WithError(err).
			Warn("Reminder delivery failed")
		return err
	}

	w.logger.Reminder("delivered", n.ID, map[string]interface{}{"kind": string(n.Kind)})
	return nil
}

// NewServer creates the asynq server consuming the reminder queue
func NewServer(redisOpt asynq.RedisConnOpt, queue string, concurrency int) *asynq.Server {
	if concurrency <= 0 {
		concurrency = 5
	}
	return asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})
}
