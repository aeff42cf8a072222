package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
)

// RedisDLQ stores failed-job records in one redis hash, keyed by record id, so
// multiple worker processes share a single dead letter queue.
//
// Query operations load the whole hash. Dead jobs are an exceptional flow; if
// a deployment dead-letters enough jobs for that to hurt, the queue has bigger
// problems than this scan.
type RedisDLQ struct {
	RedisClient redis.UniversalClient
	Key         string
}

// Store implements DeadLetterQueue.
func (q *RedisDLQ) Store(ctx context.Context, job *FailedJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return errors.Wrapf(err, "encode failed job %s", job.ID)
	}
	if err := q.RedisClient.HSet(ctx, q.Key, job.ID, data).Err(); err != nil {
		return errors.Wrapf(ErrDriverUnavailable, "redis dlq store: %s", err)
	}
	return nil
}

// Get implements DeadLetterQueue.
func (q *RedisDLQ) Get(ctx context.Context, id string) (*FailedJob, error) {
	data, err := q.RedisClient.HGet(ctx, q.Key, id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrFailedJobNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(ErrDriverUnavailable, "redis dlq get: %s", err)
	}
	var record FailedJob
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, errors.Wrapf(ErrJobDeserialization, "corrupt failed job %s: %s", id, err)
	}
	return &record, nil
}

// GetAll implements DeadLetterQueue.
func (q *RedisDLQ) GetAll(ctx context.Context, limit, offset int) ([]*FailedJob, error) {
	all, err := q.readAll(ctx)
	if err != nil {
		return nil, err
	}
	sortNewestFirst(all)
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

// GetByType implements DeadLetterQueue.
func (q *RedisDLQ) GetByType(ctx context.Context, jobType string) ([]*FailedJob, error) {
	all, err := q.readAll(ctx)
	if err != nil {
		return nil, err
	}
	var out []*FailedJob
	for _, record := range all {
		if record.JobType == jobType {
			out = append(out, record)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

// GetByDateRange implements DeadLetterQueue.
func (q *RedisDLQ) GetByDateRange(ctx context.Context, from, to time.Time) ([]*FailedJob, error) {
	all, err := q.readAll(ctx)
	if err != nil {
		return nil, err
	}
	var out []*FailedJob
	for _, record := range all {
		if !record.FailedAt.Before(from) && !record.FailedAt.After(to) {
			out = append(out, record)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

// Count implements DeadLetterQueue.
func (q *RedisDLQ) Count(ctx context.Context) (int64, error) {
	n, err := q.RedisClient.HLen(ctx, q.Key).Result()
	if err != nil {
		return 0, errors.Wrapf(ErrDriverUnavailable, "redis dlq count: %s", err)
	}
	return n, nil
}

// Stats implements DeadLetterQueue.
func (q *RedisDLQ) Stats(ctx context.Context) (DLQStats, error) {
	all, err := q.readAll(ctx)
	if err != nil {
		return DLQStats{}, err
	}
	byID := make(map[string]*FailedJob, len(all))
	for _, record := range all {
		byID[record.ID] = record
	}
	return aggregateStats(byID)
}

// Retry implements DeadLetterQueue.
func (q *RedisDLQ) Retry(ctx context.Context, id string) (*FailedJob, error) {
	record, err := q.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	removed, err := q.RedisClient.HDel(ctx, q.Key, id).Result()
	if err != nil {
		return nil, errors.Wrapf(ErrDriverUnavailable, "redis dlq retry: %s", err)
	}
	if removed == 0 {
		// Another consumer claimed it between Get and HDel.
		return nil, ErrFailedJobNotFound
	}
	return record, nil
}

// RetryByType implements DeadLetterQueue.
func (q *RedisDLQ) RetryByType(ctx context.Context, jobType string) ([]*FailedJob, error) {
	all, err := q.readAll(ctx)
	if err != nil {
		return nil, err
	}
	var out []*FailedJob
	for _, record := range all {
		if record.JobType != jobType {
			continue
		}
		removed, err := q.RedisClient.HDel(ctx, q.Key, record.ID).Result()
		if err != nil {
			return out, errors.Wrapf(ErrDriverUnavailable, "redis dlq retry: %s", err)
		}
		if removed > 0 {
			out = append(out, record)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

// Prune implements DeadLetterQueue.
func (q *RedisDLQ) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	all, err := q.readAll(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, record := range all {
		if record.FailedAt.Before(olderThan) {
			n, err := q.RedisClient.HDel(ctx, q.Key, record.ID).Result()
			if err != nil {
				return removed, errors.Wrapf(ErrDriverUnavailable, "redis dlq prune: %s", err)
			}
			removed += int(n)
		}
	}
	return removed, nil
}

// Delete implements DeadLetterQueue.
func (q *RedisDLQ) Delete(ctx context.Context, id string) error {
	removed, err := q.RedisClient.HDel(ctx, q.Key, id).Result()
	if err != nil {
		return errors.Wrapf(ErrDriverUnavailable, "redis dlq delete: %s", err)
	}
	if removed == 0 {
		return ErrFailedJobNotFound
	}
	return nil
}

func (q *RedisDLQ) readAll(ctx context.Context) ([]*FailedJob, error) {
	raw, err := q.RedisClient.HGetAll(ctx, q.Key).Result()
	if err != nil {
		return nil, errors.Wrapf(ErrDriverUnavailable, "redis dlq scan: %s", err)
	}
	out := make([]*FailedJob, 0, len(raw))
	for _, data := range raw {
		var record FailedJob
		if err := json.Unmarshal([]byte(data), &record); err != nil {
			// Skip corrupt entries; they stay fetchable by id for forensics.
			continue
		}
		out = append(out, &record)
	}
	return out, nil
}
