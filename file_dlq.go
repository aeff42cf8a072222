package queue

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// FileDLQ stores each failed-job record as one JSON file under a directory,
// so the dead letter queue survives process restarts.
//
// Queries read the whole directory; fine for the DLQ volumes this package
// targets, where dead jobs are an exception, not a stream.
type FileDLQ struct {
	dir string
	mu  sync.Mutex
}

// NewFileDLQ creates a file-backed dead letter queue under dir, creating the
// directory if missing.
func NewFileDLQ(dir string) (*FileDLQ, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(ErrDriverUnavailable, "create dlq dir %s: %s", dir, err)
	}
	return &FileDLQ{dir: dir}, nil
}

// Store implements DeadLetterQueue.
func (q *FileDLQ) Store(ctx context.Context, job *FailedJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	data, err := json.Marshal(job)
	if err != nil {
		return errors.Wrapf(err, "encode failed job %s", job.ID)
	}
	if err := ioutil.WriteFile(q.path(job.ID), data, 0o644); err != nil {
		return errors.Wrapf(ErrDriverUnavailable, "write failed job: %s", err)
	}
	return nil
}

// Get implements DeadLetterQueue.
func (q *FileDLQ) Get(ctx context.Context, id string) (*FailedJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.read(id)
}

// GetAll implements DeadLetterQueue.
func (q *FileDLQ) GetAll(ctx context.Context, limit, offset int) ([]*FailedJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	all, err := q.readAll()
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
func (q *FileDLQ) GetByType(ctx context.Context, jobType string) ([]*FailedJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	all, err := q.readAll()
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
func (q *FileDLQ) GetByDateRange(ctx context.Context, from, to time.Time) ([]*FailedJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	all, err := q.readAll()
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
func (q *FileDLQ) Count(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids, err := q.ids()
	if err != nil {
		return 0, err
	}
	return int64(len(ids)), nil
}

// Stats implements DeadLetterQueue.
func (q *FileDLQ) Stats(ctx context.Context) (DLQStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	all, err := q.readAll()
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
func (q *FileDLQ) Retry(ctx context.Context, id string) (*FailedJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	record, err := q.read(id)
	if err != nil {
		return nil, err
	}
	if err := os.Remove(q.path(id)); err != nil {
		return nil, errors.Wrapf(ErrDriverUnavailable, "remove failed job %s: %s", id, err)
	}
	return record, nil
}

// RetryByType implements DeadLetterQueue.
func (q *FileDLQ) RetryByType(ctx context.Context, jobType string) ([]*FailedJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	all, err := q.readAll()
	if err != nil {
		return nil, err
	}
	var out []*FailedJob
	for _, record := range all {
		if record.JobType != jobType {
			continue
		}
		if err := os.Remove(q.path(record.ID)); err != nil {
			return out, errors.Wrapf(ErrDriverUnavailable, "remove failed job %s: %s", record.ID, err)
		}
		out = append(out, record)
	}
	sortNewestFirst(out)
	return out, nil
}

// Prune implements DeadLetterQueue.
func (q *FileDLQ) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	all, err := q.readAll()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, record := range all {
		if record.FailedAt.Before(olderThan) {
			if err := os.Remove(q.path(record.ID)); err != nil {
				return removed, errors.Wrapf(ErrDriverUnavailable, "remove failed job %s: %s", record.ID, err)
			}
			removed++
		}
	}
	return removed, nil
}

// Delete implements DeadLetterQueue.
func (q *FileDLQ) Delete(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, err := os.Stat(q.path(id)); os.IsNotExist(err) {
		return ErrFailedJobNotFound
	}
	if err := os.Remove(q.path(id)); err != nil {
		return errors.Wrapf(ErrDriverUnavailable, "remove failed job %s: %s", id, err)
	}
	return nil
}

func (q *FileDLQ) path(id string) string {
	return filepath.Join(q.dir, id+".failed")
}

func (q *FileDLQ) ids() ([]string, error) {
	entries, err := ioutil.ReadDir(q.dir)
	if err != nil {
		return nil, errors.Wrapf(ErrDriverUnavailable, "list dlq dir %s: %s", q.dir, err)
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".failed") {
			ids = append(ids, strings.TrimSuffix(e.Name(), ".failed"))
		}
	}
	return ids, nil
}

func (q *FileDLQ) read(id string) (*FailedJob, error) {
	data, err := ioutil.ReadFile(q.path(id))
	if os.IsNotExist(err) {
		return nil, ErrFailedJobNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(ErrDriverUnavailable, "read failed job %s: %s", id, err)
	}
	var record FailedJob
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, errors.Wrapf(ErrJobDeserialization, "corrupt failed job %s: %s", id, err)
	}
	return &record, nil
}

func (q *FileDLQ) readAll() ([]*FailedJob, error) {
	ids, err := q.ids()
	if err != nil {
		return nil, err
	}
	out := make([]*FailedJob, 0, len(ids))
	for _, id := range ids {
		record, err := q.read(id)
		if err != nil {
			if errors.Is(err, ErrFailedJobNotFound) || errors.Is(err, ErrJobDeserialization) {
				continue
			}
			return nil, err
		}
		out = append(out, record)
	}
	return out, nil
}
