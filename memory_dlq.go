package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryDLQ keeps failed-job records in memory. Records are lost on process
// restart; use FileDLQ or RedisDLQ for durability.
//
// InMemoryDLQ is safe for concurrent use.
type InMemoryDLQ struct {
	mu      sync.RWMutex
	records map[string]*FailedJob
}

// NewInMemoryDLQ creates an empty in-memory dead letter queue.
func NewInMemoryDLQ() *InMemoryDLQ {
	return &InMemoryDLQ{records: make(map[string]*FailedJob)}
}

// Store implements DeadLetterQueue.
func (q *InMemoryDLQ) Store(ctx context.Context, job *FailedJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	clone := *job
	q.records[job.ID] = &clone
	return nil
}

// Get implements DeadLetterQueue.
func (q *InMemoryDLQ) Get(ctx context.Context, id string) (*FailedJob, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	record, ok := q.records[id]
	if !ok {
		return nil, ErrFailedJobNotFound
	}
	clone := *record
	return &clone, nil
}

// GetAll implements DeadLetterQueue.
func (q *InMemoryDLQ) GetAll(ctx context.Context, limit, offset int) ([]*FailedJob, error) {
	q.mu.RLock()
	all := q.snapshot()
	q.mu.RUnlock()

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
func (q *InMemoryDLQ) GetByType(ctx context.Context, jobType string) ([]*FailedJob, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	var out []*FailedJob
	for _, record := range q.records {
		if record.JobType == jobType {
			clone := *record
			out = append(out, &clone)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

// GetByDateRange implements DeadLetterQueue. The range is inclusive on both
// ends.
func (q *InMemoryDLQ) GetByDateRange(ctx context.Context, from, to time.Time) ([]*FailedJob, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	var out []*FailedJob
	for _, record := range q.records {
		if !record.FailedAt.Before(from) && !record.FailedAt.After(to) {
			clone := *record
			out = append(out, &clone)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

// Count implements DeadLetterQueue.
func (q *InMemoryDLQ) Count(ctx context.Context) (int64, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return int64(len(q.records)), nil
}

// Stats implements DeadLetterQueue.
func (q *InMemoryDLQ) Stats(ctx context.Context) (DLQStats, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return aggregateStats(q.records)
}

// Retry implements DeadLetterQueue.
func (q *InMemoryDLQ) Retry(ctx context.Context, id string) (*FailedJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	record, ok := q.records[id]
	if !ok {
		return nil, ErrFailedJobNotFound
	}
	delete(q.records, id)
	return record, nil
}

// RetryByType implements DeadLetterQueue.
func (q *InMemoryDLQ) RetryByType(ctx context.Context, jobType string) ([]*FailedJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*FailedJob
	for id, record := range q.records {
		if record.JobType == jobType {
			out = append(out, record)
			delete(q.records, id)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

// Prune implements DeadLetterQueue.
func (q *InMemoryDLQ) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	removed := 0
	for id, record := range q.records {
		if record.FailedAt.Before(olderThan) {
			delete(q.records, id)
			removed++
		}
	}
	return removed, nil
}

// Delete implements DeadLetterQueue.
func (q *InMemoryDLQ) Delete(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.records[id]; !ok {
		return ErrFailedJobNotFound
	}
	delete(q.records, id)
	return nil
}

func (q *InMemoryDLQ) snapshot() []*FailedJob {
	out := make([]*FailedJob, 0, len(q.records))
	for _, record := range q.records {
		clone := *record
		out = append(out, &clone)
	}
	return out
}

func sortNewestFirst(records []*FailedJob) {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].FailedAt.Equal(records[j].FailedAt) {
			return records[i].FailedAt.After(records[j].FailedAt)
		}
		return records[i].ID < records[j].ID
	})
}

func aggregateStats(records map[string]*FailedJob) (DLQStats, error) {
	stats := DLQStats{
		ByType:  make(map[string]int64),
		ByError: make(map[string]int64),
	}
	for _, record := range records {
		stats.Total++
		stats.ByType[record.JobType]++
		stats.ByError[record.Error]++
		if stats.Oldest.IsZero() || record.FailedAt.Before(stats.Oldest) {
			stats.Oldest = record.FailedAt
		}
		if record.FailedAt.After(stats.Newest) {
			stats.Newest = record.FailedAt
		}
	}
	return stats, nil
}
