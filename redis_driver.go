package queue

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
)

// RedisDriver stores pending jobs in redis, giving the queue cross-process
// visibility: several worker processes may share one set of channels. Ready
// jobs live in one list per priority; delayed jobs in a sorted set scored by
// their visibility time.
//
// Atomicity for Pop comes from redis itself (LPOP, ZREM); no further
// coordination is needed between competing consumers.
type RedisDriver struct {
	Logger        log.Logger
	RedisClient   redis.UniversalClient
	ChannelConfig ChannelConfig
}

var priorityOrder = []Priority{PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow}

// Push implements Driver.
func (d *RedisDriver) Push(ctx context.Context, job *PersistedJob, delay time.Duration) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}
	data, err := json.Marshal(job)
	if err != nil {
		return errors.Wrapf(err, "encode envelope %s", job.UniqueID)
	}
	if delay > 0 {
		err = d.RedisClient.ZAdd(ctx, d.ChannelConfig.Delayed, &redis.Z{
			Score:  float64(time.Now().Add(delay).UnixNano()),
			Member: string(data),
		}).Err()
	} else {
		err = d.RedisClient.RPush(ctx, d.ChannelConfig.WaitingKey(job.Priority), data).Err()
	}
	if err != nil {
		return errors.Wrapf(ErrDriverUnavailable, "redis push: %s", err)
	}
	return nil
}

// Pop implements Driver. It first promotes due delayed jobs into their waiting
// lists, then pops from the highest-priority non-empty list.
func (d *RedisDriver) Pop(ctx context.Context) (*PersistedJob, error) {
	if err := d.promoteDue(ctx); err != nil {
		return nil, err
	}
	for _, p := range priorityOrder {
		data, err := d.RedisClient.LPop(ctx, d.ChannelConfig.WaitingKey(p)).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(ErrDriverUnavailable, "redis pop: %s", err)
		}
		var job PersistedJob
		if err := json.Unmarshal(data, &job); err != nil {
			return nil, errors.Wrapf(ErrJobDeserialization, "corrupt envelope: %s", err)
		}
		return &job, nil
	}
	return nil, ErrEmpty
}

// Info implements Driver.
func (d *RedisDriver) Info(ctx context.Context) (QueueInfo, error) {
	var info QueueInfo
	delayed, err := d.RedisClient.ZCard(ctx, d.ChannelConfig.Delayed).Result()
	if err != nil {
		return info, errors.Wrapf(ErrDriverUnavailable, "redis info: %s", err)
	}
	info.Delayed = delayed
	for _, p := range priorityOrder {
		n, err := d.RedisClient.LLen(ctx, d.ChannelConfig.WaitingKey(p)).Result()
		if err != nil {
			return info, errors.Wrapf(ErrDriverUnavailable, "redis info: %s", err)
		}
		info.Waiting += n
	}
	failed, err := d.RedisClient.LLen(ctx, d.ChannelConfig.Failed).Result()
	if err != nil {
		return info, errors.Wrapf(ErrDriverUnavailable, "redis info: %s", err)
	}
	info.Failed = failed
	return info, nil
}

// promoteDue moves delayed members whose score has passed into their waiting
// lists. ZRem gates the move, so two competing consumers never promote the
// same member twice.
func (d *RedisDriver) promoteDue(ctx context.Context) error {
	now := time.Now().UnixNano()
	members, err := d.RedisClient.ZRangeByScore(ctx, d.ChannelConfig.Delayed, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now, 10),
		Count: 100,
	}).Result()
	if err != nil {
		return errors.Wrapf(ErrDriverUnavailable, "redis promote: %s", err)
	}
	for _, member := range members {
		removed, err := d.RedisClient.ZRem(ctx, d.ChannelConfig.Delayed, member).Result()
		if err != nil {
			return errors.Wrapf(ErrDriverUnavailable, "redis promote: %s", err)
		}
		if removed == 0 {
			continue
		}
		var job PersistedJob
		if err := json.Unmarshal([]byte(member), &job); err != nil {
			if d.Logger != nil {
				_ = level.Warn(d.Logger).Log("msg", "dropping corrupt delayed envelope", "err", err)
			}
			continue
		}
		if err := d.RedisClient.RPush(ctx, d.ChannelConfig.WaitingKey(job.Priority), member).Err(); err != nil {
			return errors.Wrapf(ErrDriverUnavailable, "redis promote: %s", err)
		}
	}
	return nil
}

