package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/medrex/healthon/pkg/config"
	"github.com/medrex/healthon/pkg/interfaces"
	"github.com/medrex/healthon/pkg/logger"
	"github.com/medrex/healthon/pkg/types"
)

// TypeReminderFire is the task type of a due reminder
const TypeReminderFire = "reminder:fire"

// ReminderPayload is the task payload of a due reminder
type ReminderPayload struct {
	Notification types.ScheduledNotification `json:"notification"`
}

// NewReminderTask builds the task that delivers n when processed
func NewReminderTask(n types.ScheduledNotification) (*asynq.Task, error) {
	b, err := json.Marshal(ReminderPayload{Notification: n})
	if err != nil {
		return nil, fmt.Errorf("failed to encode reminder payload: %w", err)
	}
	return asynq.NewTask(TypeReminderFire, b), nil
}

// TaskID is the queue task id of a one-shot notification
func TaskID(id uint32) string {
	return fmt.Sprintf("reminder-%d", id)
}

// DailySpec is the cron spec of a daily notification at the wall-clock time of t
func DailySpec(t time.Time, loc *time.Location) string {
	local := t.In(loc)
	return fmt.Sprintf("%d %d * * *", local.Minute(), local.Hour())
}

// RedisConnOpt converts the shared Redis configuration for asynq
func RedisConnOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}
}

type taskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type taskDeleter interface {
	DeleteTask(queue, id string) error
}

type dailyStore interface {
	Put(ctx context.Context, n types.ScheduledNotification) error
	Remove(ctx context.Context, id uint32) error
}

// QueueBridge is the native scheduling bridge of a device. One-shot
// notifications are enqueued as tasks processed at their trigger time, daily
// ones are written to the daily registry the worker schedules from. Both
// live in Redis and end up in the delivery worker, which pushes them to the
// device whether or not the app is running.
type QueueBridge struct {
	client    taskEnqueuer
	inspector taskDeleter
	daily     dailyStore
	queue     string
	tokens    interfaces.DeviceTokenRegistry
	logger    *logger.Logger
}

// NewQueueBridge creates a bridge. tokens decides whether the device can
// receive notifications at all.
func NewQueueBridge(
	client *asynq.Client,
	inspector *asynq.Inspector,
	daily *DailyRegistry,
	queue string,
	tokens interfaces.DeviceTokenRegistry,
	log *logger.Logger,
) *QueueBridge {
	return newQueueBridge(client, inspector, daily, queue, tokens, log)
}

func newQueueBridge(
	client taskEnqueuer,
	inspector taskDeleter,
	daily dailyStore,
	queue string,
	tokens interfaces.DeviceTokenRegistry,
	log *logger.Logger,
) *QueueBridge {
	return &QueueBridge{
		client:    client,
		inspector: inspector,
		daily:     daily,
		queue:     queue,
		tokens:    tokens,
		logger:    log,
	}
}

// RequestPermission grants notifications once the device has registered a push token
func (b *QueueBridge) RequestPermission(ctx context.Context) (bool, error) {
	return b.tokens.Token() != "", nil
}

// Schedule replaces any pending task or daily entry for n.ID
func (b *QueueBridge) Schedule(ctx context.Context, n types.ScheduledNotification) error {
	if err := b.Cancel(ctx, n.ID); err != nil {
		return err
	}

	if n.IsDaily() {
		if err := b.daily.Put(ctx, n); err != nil {
			return err
		}
		b.logger.WithComponent("queue_bridge").
			WithField("notification_id", n.ID).
			Debug("Daily reminder registered")
		return nil
	}

	task, err := NewReminderTask(n)
	if err != nil {
		return err
	}

	info, err := b.client.EnqueueContext(ctx, task,
		asynq.Queue(b.queue),
		asynq.TaskID(TaskID(n.ID)),
		asynq.ProcessAt(n.TriggerAt),
		asynq.MaxRetry(3),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue reminder %d: %w", n.ID, err)
	}

	b.logger.WithComponent("queue_bridge").
		WithField("notification_id", n.ID).
		WithField("task_id", info.ID).
		WithField("process_at", info.NextProcessAt).
		Debug("Reminder task enqueued")
	return nil
}

// Cancel removes the daily entry or pending task of id. Missing ones are ignored.
func (b *QueueBridge) Cancel(ctx context.Context, id uint32) error {
	if err := b.daily.Remove(ctx, id); err != nil {
		return err
	}

	err := b.inspector.DeleteTask(b.queue, TaskID(id))
	if err != nil && !errors.Is(err, asynq.ErrTaskNotFound) && !errors.Is(err, asynq.ErrQueueNotFound) {
		return fmt.Errorf("failed to delete reminder task %d: %w", id, err)
	}
	return nil
}
