package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/medrex/healthon/pkg/logger"
	"github.com/medrex/healthon/pkg/types"
)

const redisReadTimeout = 2 * time.Second

// redisKV is the part of *redis.Client the shared registries use
type redisKV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd
	HExists(ctx context.Context, key, field string) *redis.BoolCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

func deviceTokenKey(queue string) string { return "healthon:" + queue + ":device_token" }

func dailyKey(queue string) string { return "healthon:" + queue + ":daily" }

// SharedTokenRegistry keeps the device push token in Redis, where both the
// agent and the delivery worker read it. seed is used until a device registers.
type SharedTokenRegistry struct {
	client redisKV
	key    string
	seed   string
	logger *logger.Logger

	mu     sync.RWMutex
	cached string
}

// NewSharedTokenRegistry creates the token registry of the device served by queue
func NewSharedTokenRegistry(client *redis.Client, queue, seed string, log *logger.Logger) *SharedTokenRegistry {
	return newSharedTokenRegistry(client, queue, seed, log)
}

func newSharedTokenRegistry(client redisKV, queue, seed string, log *logger.Logger) *SharedTokenRegistry {
	seed = strings.TrimSpace(seed)
	return &SharedTokenRegistry{
		client: client,
		key:    deviceTokenKey(queue),
		seed:   seed,
		logger: log,
		cached: seed,
	}
}

// SetToken stores token for every process sharing the queue
func (r *SharedTokenRegistry) SetToken(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if err := r.client.Set(ctx, r.key, token, 0).Err(); err != nil {
		return fmt.Errorf("failed to store device token: %w", err)
	}
	r.mu.Lock()
	r.cached = token
	r.mu.Unlock()
	return nil
}

// Token returns the registered token. While Redis is unreachable the last
// token read is returned.
func (r *SharedTokenRegistry) Token() string {
	ctx, cancel := context.WithTimeout(context.Background(), redisReadTimeout)
	defer cancel()

	token, err := r.client.Get(ctx, r.key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		token = r.seed
	case err != nil:
		r.logger.WithComponent("token_registry").WithError(err).Warn("Failed to read device token, using last known value")
		r.mu.RLock()
		token = r.cached
		r.mu.RUnlock()
		return token
	}

	r.mu.Lock()
	r.cached = token
	r.mu.Unlock()
	return token
}

// dailyEntry is one daily reminder as stored in the registry hash
type dailyEntry struct {
	Cronspec     string                      `json:"cronspec"`
	Notification types.ScheduledNotification `json:"notification"`
}

// DailyRegistry keeps the daily reminders of a device in a Redis hash. The
// worker's periodic task manager reads it as its config provider, so daily
// reminders keep firing while the agent is not running.
type DailyRegistry struct {
	client redisKV
	key    string
	queue  string
	loc    *time.Location
	logger *logger.Logger
}

// NewDailyRegistry creates the daily reminder registry of queue. loc is the
// zone the cron specs are written in; the worker must schedule in the same zone.
func NewDailyRegistry(client *redis.Client, queue string, loc *time.Location, log *logger.Logger) *DailyRegistry {
	return newDailyRegistry(client, queue, loc, log)
}

func newDailyRegistry(client redisKV, queue string, loc *time.Location, log *logger.Logger) *DailyRegistry {
	if loc == nil {
		loc = time.Local
	}
	return &DailyRegistry{
		client: client,
		key:    dailyKey(queue),
		queue:  queue,
		loc:    loc,
		logger: log,
	}
}

func dailyField(id uint32) string { return strconv.FormatUint(uint64(id), 10) }

// Put adds or replaces the daily reminder n
func (d *DailyRegistry) Put(ctx context.Context, n types.ScheduledNotification) error {
	b, err := json.Marshal(dailyEntry{Cronspec: DailySpec(n.TriggerAt, d.loc), Notification: n})
	if err != nil {
		return fmt.Errorf("failed to encode daily reminder %d: %w", n.ID, err)
	}
	if err := d.client.HSet(ctx, d.key, dailyField(n.ID), string(b)).Err(); err != nil {
		return fmt.Errorf("failed to store daily reminder %d: %w", n.ID, err)
	}
	return nil
}

// Remove deletes the daily reminder id. A missing one is not an error.
func (d *DailyRegistry) Remove(ctx context.Context, id uint32) error {
	if err := d.client.HDel(ctx, d.key, dailyField(id)).Err(); err != nil {
		return fmt.Errorf("failed to remove daily reminder %d: %w", id, err)
	}
	return nil
}

// Active reports whether the daily reminder id is still registered
func (d *DailyRegistry) Active(ctx context.Context, id uint32) (bool, error) {
	ok, err := d.client.HExists(ctx, d.key, dailyField(id)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to look up daily reminder %d: %w", id, err)
	}
	return ok, nil
}

// GetConfigs implements asynq.PeriodicTaskConfigProvider
func (d *DailyRegistry) GetConfigs() ([]*asynq.PeriodicTaskConfig, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisReadTimeout)
	defer cancel()

	entries, err := d.client.HGetAll(ctx, d.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read daily reminders: %w", err)
	}

	fields := make([]string, 0, len(entries))
	for field := range entries {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	configs := make([]*asynq.PeriodicTaskConfig, 0, len(fields))
	for _, field := range fields {
		var e dailyEntry
		if err := json.Unmarshal([]byte(entries[field]), &e); err != nil {
			d.logger.WithComponent("daily_registry").
				WithField("field", field).
				WithError(err).
				Warn("Skipping undecodable daily reminder")
			continue
		}
		task, err := NewReminderTask(e.Notification)
		if err != nil {
			return nil, err
		}
		configs = append(configs, &asynq.PeriodicTaskConfig{
			Cronspec: e.Cronspec,
			Task:     task,
			Opts:     []asynq.Option{asynq.Queue(d.queue), asynq.MaxRetry(3)},
		})
	}
	return configs, nil
}

// NewDailyManager creates the periodic task manager that turns the registry
// into due reminder tasks. It runs in the delivery worker.
func NewDailyManager(redisOpt asynq.RedisConnOpt, daily *DailyRegistry, syncInterval time.Duration) (*asynq.PeriodicTaskManager, error) {
	mgr, err := asynq.NewPeriodicTaskManager(asynq.PeriodicTaskManagerOpts{
		PeriodicTaskConfigProvider: daily,
		RedisConnOpt:               redisOpt,
		SchedulerOpts:              &asynq.SchedulerOpts{Location: daily.loc},
		SyncInterval:               syncInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create daily reminder manager: %w", err)
	}
	return mgr, nil
}
