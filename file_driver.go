package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// FileDriver persists each pending job as one JSON file under a configured
// directory, so queued work survives a process restart. Pop hands back the
// stored envelope; reconstructing the Job from its serialized body is the
// runner's business, via the Registry.
//
// One FileDriver instance owns its directory. Concurrent use from multiple
// processes is not coordinated; run one process per path.
type FileDriver struct {
	dir   string
	mu    sync.Mutex
	clock func() time.Time
}

// NewFileDriver creates a file-backed driver storing jobs under dir. The
// directory is created if missing.
func NewFileDriver(dir string) (*FileDriver, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(ErrDriverUnavailable, "create queue dir %s: %s", dir, err)
	}
	return &FileDriver{dir: dir, clock: time.Now}, nil
}

// Push implements Driver.
func (d *FileDriver) Push(ctx context.Context, job *PersistedJob, delay time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock()
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = now
	}
	readyAt := now.Add(delay)

	data, err := json.Marshal(job)
	if err != nil {
		return errors.Wrapf(err, "encode envelope %s", job.UniqueID)
	}
	// Clamp out-of-range priorities: a value above critical would make the
	// inverted prefix negative and the record unparseable, hence invisible.
	prio := job.Priority
	if prio > PriorityCritical {
		prio = PriorityCritical
	} else if prio < PriorityLow {
		prio = PriorityLow
	}
	name := fmt.Sprintf("%d-%020d-%020d-%s.job",
		int(PriorityCritical-prio), readyAt.UnixNano(), job.EnqueuedAt.UnixNano(), job.UniqueID)
	tmp := filepath.Join(d.dir, name+".tmp")
	if err := ioutil.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrapf(ErrDriverUnavailable, "write job file: %s", err)
	}
	if err := os.Rename(tmp, filepath.Join(d.dir, name)); err != nil {
		return errors.Wrapf(ErrDriverUnavailable, "commit job file: %s", err)
	}
	return nil
}

// Pop implements Driver. Among ready files it picks the highest priority,
// earliest-enqueued one, removes the record and returns the envelope.
func (d *FileDriver) Pop(ctx context.Context) (*PersistedJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	best, err := d.nextReady()
	if err != nil {
		return nil, err
	}
	if best == "" {
		return nil, ErrEmpty
	}

	full := filepath.Join(d.dir, best)
	data, err := ioutil.ReadFile(full)
	if err != nil {
		return nil, errors.Wrapf(ErrDriverUnavailable, "read job file %s: %s", best, err)
	}
	var job PersistedJob
	if err := json.Unmarshal(data, &job); err != nil {
		// Quarantine the record so the queue doesn't spin on it forever.
		_ = os.Rename(full, full+".bad")
		return nil, errors.Wrapf(ErrJobDeserialization, "corrupt job file %s: %s", best, err)
	}
	if err := os.Remove(full); err != nil {
		return nil, errors.Wrapf(ErrDriverUnavailable, "remove job file %s: %s", best, err)
	}
	return &job, nil
}

// Info implements Driver.
func (d *FileDriver) Info(ctx context.Context) (QueueInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	names, err := d.list()
	if err != nil {
		return QueueInfo{}, err
	}
	now := d.clock().UnixNano()
	var info QueueInfo
	for _, name := range names {
		if _, readyAt, _, ok := parseJobFileName(name); ok {
			if readyAt <= now {
				info.Waiting++
			} else {
				info.Delayed++
			}
		}
	}
	return info, nil
}

func (d *FileDriver) list() ([]string, error) {
	entries, err := ioutil.ReadDir(d.dir)
	if err != nil {
		return nil, errors.Wrapf(ErrDriverUnavailable, "list queue dir %s: %s", d.dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".job") {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// nextReady returns the file name of the best ready job, or "" when none.
// Callers hold d.mu.
func (d *FileDriver) nextReady() (string, error) {
	names, err := d.list()
	if err != nil {
		return "", err
	}
	now := d.clock().UnixNano()
	var (
		best         string
		bestPrio     int
		bestEnqueued int64
	)
	for _, name := range names {
		invPrio, readyAt, enqueued, ok := parseJobFileName(name)
		if !ok || readyAt > now {
			continue
		}
		if best == "" || invPrio < bestPrio || (invPrio == bestPrio && enqueued < bestEnqueued) {
			best, bestPrio, bestEnqueued = name, invPrio, enqueued
		}
	}
	return best, nil
}

// parseJobFileName splits "<invPrio>-<readyAt>-<enqueuedAt>-<id>.job".
func parseJobFileName(name string) (invPrio int, readyAt, enqueuedAt int64, ok bool) {
	parts := strings.SplitN(strings.TrimSuffix(name, ".job"), "-", 4)
	if len(parts) != 4 {
		return 0, 0, 0, false
	}
	invPrio, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, 0, false
	}
	readyAt, err = strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, 0, false
	}
	enqueuedAt, err = strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return 0, 0, 0, false
	}
	return invPrio, readyAt, enqueuedAt, true
}
