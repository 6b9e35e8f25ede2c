package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"jobsync/internal/config"
	"jobsync/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisStorage keeps the job row as a JSON string and the queue as a hash of
// actions plus a sorted set ordered by "<timestamp>|<id>".
type RedisStorage struct {
	client *redis.Client
	prefix string
	logger *zerolog.Logger
}

// NewRedisClient создает новый клиент Redis на основе конфигурации
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func NewRedisStorage(client *redis.Client, prefix string, logger *zerolog.Logger) *RedisStorage {
	if prefix == "" {
		prefix = "jobsync"
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &RedisStorage{client: client, prefix: prefix, logger: logger}
}

func (r *RedisStorage) jobKey() string     { return r.prefix + ":current_job" }
func (r *RedisStorage) seqKey() string     { return r.prefix + ":actions:seq" }
func (r *RedisStorage) actionsKey() string { return r.prefix + ":actions" }
func (r *RedisStorage) pendingKey() string { return r.prefix + ":actions:pending" }
func (r *RedisStorage) syncedKey() string  { return r.prefix + ":actions:synced" }
func (r *RedisStorage) deadKey() string    { return r.prefix + ":actions:dead" }

func orderMember(a models.PendingAction) string {
	return fmt.Sprintf("%s|%020d", models.FormatTimestamp(a.Timestamp), a.ID)
}

func memberID(member string) (int64, error) {
	i := strings.LastIndexByte(member, '|')
	if i < 0 {
		return 0, fmt.Errorf("malformed queue member %q", member)
	}
	return strconv.ParseInt(member[i+1:], 10, 64)
}

func (r *RedisStorage) ReplaceJob(ctx context.Context, job *models.Job) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if job == nil {
		return errors.New("job is nil")
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	// SET overwrites in one step: there is never zero or two jobs.
	if err := r.client.Set(ctx, r.jobKey(), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set job in redis: %w", err)
	}
	return nil
}

func (r *RedisStorage) GetJob(ctx context.Context) (*models.Job, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	val, err := r.client.Get(ctx, r.jobKey()).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job from redis: %w", err)
	}

	var job models.Job
	if err := json.Unmarshal([]byte(val), &job); err != nil {
		// Retry without the tracking list so a bad list does not hide the job.
		var partial struct {
			models.Job
			SleepTracking json.RawMessage `json:"sleepTracking"`
		}
		if perr := json.Unmarshal([]byte(val), &partial); perr != nil {
			return nil, fmt.Errorf("failed to unmarshal job: %w", err)
		}
		r.logger.Warn().Err(err).Str("job_id", partial.ID).Msg("malformed sleep tracking, treating as absent")
		job = partial.Job
		job.SleepTracking = nil
	}
	return &job, nil
}

func (r *RedisStorage) DeleteJob(ctx context.Context) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Del(ctx, r.jobKey()).Err(); err != nil {
		return fmt.Errorf("failed to delete job from redis: %w", err)
	}
	return nil
}

func (r *RedisStorage) CreatePendingAction(ctx context.Context, action *models.PendingAction) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if action == nil {
		return errors.New("action is nil")
	}
	id, err := r.client.Incr(ctx, r.seqKey()).Result()
	if err != nil {
		return fmt.Errorf("failed to allocate action id: %w", err)
	}

	stored := *action
	stored.ID = id
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal action: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.actionsKey(), strconv.FormatInt(id, 10), data)
		if stored.Synced {
			pipe.SAdd(ctx, r.syncedKey(), id)
		} else {
			pipe.ZAdd(ctx, r.pendingKey(), redis.Z{Score: 0, Member: orderMember(stored)})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to create pending action: %w", err)
	}
	action.ID = id
	return nil
}

// GetPendingActions returns unsynced actions, oldest first. Entries that cannot be
// decoded leave the pending set; their bodies are kept under the dead key.
func (r *RedisStorage) GetPendingActions(ctx context.Context) ([]models.PendingAction, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	// Equal scores order members lexically, which is timestamp then id.
	members, err := r.client.ZRange(ctx, r.pendingKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get pending actions: %w", err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	fields := make([]string, 0, len(members))
	valid := make([]string, 0, len(members))
	malformed := make(map[string]string)
	var orphans []interface{}
	for _, m := range members {
		id, err := memberID(m)
		if err != nil {
			r.logger.Warn().Err(err).Str("member", m).Msg("dropping malformed queue member")
			orphans = append(orphans, m)
			continue
		}
		fields = append(fields, strconv.FormatInt(id, 10))
		valid = append(valid, m)
	}

	var values []interface{}
	if len(fields) > 0 {
		values, err = r.client.HMGet(ctx, r.actionsKey(), fields...).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to load pending actions: %w", err)
		}
	}

	actions := make([]models.PendingAction, 0, len(values))
	for i, v := range values {
		body, ok := v.(string)
		if !ok {
			r.logger.Warn().Str("action_id", fields[i]).Msg("pending action body missing, dropping member")
			orphans = append(orphans, valid[i])
			continue
		}
		var a models.PendingAction
		if err := json.Unmarshal([]byte(body), &a); err != nil {
			r.logger.Warn().Err(err).Str("action_id", fields[i]).Msg("malformed action data, moving to dead actions")
			orphans = append(orphans, valid[i])
			malformed[fields[i]] = body
			continue
		}
		actions = append(actions, a)
	}

	if len(orphans) > 0 {
		r.quarantine(ctx, orphans, malformed)
	}
	return actions, nil
}

func (r *RedisStorage) quarantine(ctx context.Context, members []interface{}, bodies map[string]string) {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, r.pendingKey(), members...)
		if len(bodies) > 0 {
			ids := make([]string, 0, len(bodies))
			for id, body := range bodies {
				pipe.HSet(ctx, r.deadKey(), id, body)
				ids = append(ids, id)
			}
			pipe.HDel(ctx, r.actionsKey(), ids...)
		}
		return nil
	})
	if err != nil {
		r.logger.Error().Err(err).Int("members", len(members)).Msg("failed to move malformed actions")
	}
}

// CountPendingActions counts the actions GetPendingActions would return.
func (r *RedisStorage) CountPendingActions(ctx context.Context) (int, error) {
	actions, err := r.GetPendingActions(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending actions: %w", err)
	}
	return len(actions), nil
}

func (r *RedisStorage) MarkActionSynced(ctx context.Context, id int64) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	field := strconv.FormatInt(id, 10)
	val, err := r.client.HGet(ctx, r.actionsKey(), field).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load action %d: %w", id, err)
	}

	var a models.PendingAction
	if err := json.Unmarshal([]byte(val), &a); err != nil {
		return fmt.Errorf("failed to decode action %d: %w", id, err)
	}
	a.Synced = true
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal action %d: %w", id, err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.actionsKey(), field, data)
		pipe.ZRem(ctx, r.pendingKey(), orderMember(a))
		pipe.SAdd(ctx, r.syncedKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to mark action %d synced: %w", id, err)
	}
	return nil
}

func (r *RedisStorage) ClearApplied(ctx context.Context, jobID string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	actions, err := r.GetPendingActions(ctx)
	if err != nil {
		return err
	}

	updates := make(map[string]interface{})
	for _, a := range actions {
		if a.JobID != jobID || !a.Applied {
			continue
		}
		a.Applied = false
		data, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("failed to marshal action %d: %w", a.ID, err)
		}
		updates[strconv.FormatInt(a.ID, 10)] = data
	}
	if len(updates) == 0 {
		return nil
	}
	if err := r.client.HSet(ctx, r.actionsKey(), updates).Err(); err != nil {
		return fmt.Errorf("failed to clear applied flags for job %s: %w", jobID, err)
	}
	return nil
}

func (r *RedisStorage) PurgeSyncedActions(ctx context.Context) (int64, error) {
	if r.client == nil {
		return 0, fmt.Errorf("redis client is nil")
	}
	ids, err := r.client.SMembers(ctx, r.syncedKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list synced actions: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	members := make([]interface{}, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	var deleted *redis.IntCmd
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.HDel(ctx, r.actionsKey(), ids...)
		pipe.SRem(ctx, r.syncedKey(), members...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to purge synced actions: %w", err)
	}
	return deleted.Val(), nil
}

func (r *RedisStorage) DeleteAllActions(ctx context.Context) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Del(ctx, r.actionsKey(), r.pendingKey(), r.syncedKey()).Err(); err != nil {
		return fmt.Errorf("failed to delete pending actions: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis
func (r *RedisStorage) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Ping проверяет соединение с Redis
func Ping(ctx context.Context, client *redis.Client) error {
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}
