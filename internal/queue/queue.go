// Package queue implements a durable job queue backed by bbolt.
//
// Jobs live in one of two buckets: "pending" (keyed by an insertion sequence
// number, giving best-effort FIFO order) and "claimed" (keyed by job id).
// Dequeue atomically moves a job from pending to claimed so no second worker
// can see it; a job is only removed for good by Ack. Jobs claimed by a worker
// that crashed are moved back to pending by Recover at startup, which means
// delivery is at-least-once and consumers must apply jobs idempotently.
package queue

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

// ErrUnavailable is returned when the backing store cannot be reached.
var ErrUnavailable = errors.New("queue unavailable")

var (
	bucketPending = []byte("pending")
	bucketClaimed = []byte("claimed")
)

// pollInterval bounds how long a blocked Dequeue waits before re-checking the
// pending bucket, covering wakeups lost to races or recovered jobs.
const pollInterval = 500 * time.Millisecond

// Job is one unit of queued work referencing a meeting record.
type Job struct {
	JobID        string    `json:"job_id"`
	MeetingID    string    `json:"meeting_id"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
	AttemptCount int       `json:"attempt_count"`
}

// Queue is a durable work queue. All methods are safe for concurrent use;
// bbolt serializes writers internally.
type Queue struct {
	db   *bolt.DB
	wake chan struct{}
}

// Open opens (or creates) the queue database at path.
func Open(path string) (*Queue, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrUnavailable, path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketPending); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketClaimed)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: create buckets: %v", ErrUnavailable, err)
	}

	return &Queue{db: db, wake: make(chan struct{}, 1)}, nil
}

// Enqueue appends a new job for meetingID and returns it.
func (q *Queue) Enqueue(meetingID string) (*Job, error) {
	job := &Job{
		JobID:      uuid.New().String(),
		MeetingID:  meetingID,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := q.pushPending(job); err != nil {
		return nil, err
	}
	return job, nil
}

func (q *Queue) pushPending(job *Job) error {
	err := q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPending)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		enc, err := json.Marshal(job)
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), enc)
	})
	if err != nil {
		return fmt.Errorf("%w: enqueue job %s: %v", ErrUnavailable, job.JobID, err)
	}
	q.notify()
	return nil
}

// Dequeue blocks until a job can be claimed or ctx is done. The claimed job
// stays in the claimed bucket until Ack or Nack.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	for {
		job, err := q.tryClaim()
		if err != nil {
			return nil, err
		}
		if job != nil {
			return job, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.wake:
		case <-time.After(pollInterval):
		}
	}
}

// tryClaim moves the oldest pending job into the claimed bucket. Returns
// (nil, nil) when the queue is empty.
func (q *Queue) tryClaim() (*Job, error) {
	var job *Job
	err := q.db.Update(func(tx *bolt.Tx) error {
		pending := tx.Bucket(bucketPending)
		k, v := pending.Cursor().First()
		if k == nil {
			return nil
		}

		var j Job
		if err := json.Unmarshal(v, &j); err != nil {
			// A malformed entry would otherwise wedge the queue head; drop it.
			return pending.Delete(k)
		}

		if err := pending.Delete(k); err != nil {
			return err
		}
		if err := tx.Bucket(bucketClaimed).Put([]byte(j.JobID), v); err != nil {
			return err
		}
		job = &j
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: claim job: %v", ErrUnavailable, err)
	}
	return job, nil
}

// Ack removes a claimed job permanently.
func (q *Queue) Ack(jobID string) error {
	err := q.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketClaimed).Delete([]byte(jobID))
	})
	if err != nil {
		return fmt.Errorf("%w: ack job %s: %v", ErrUnavailable, jobID, err)
	}
	return nil
}

// Nack releases a claimed job. With requeue it goes back to pending with an
// incremented attempt count; without, it is dropped (the caller has already
// recorded the terminal outcome).
func (q *Queue) Nack(jobID string, requeue bool) error {
	var job *Job
	err := q.db.Update(func(tx *bolt.Tx) error {
		claimed := tx.Bucket(bucketClaimed)
		v := claimed.Get([]byte(jobID))
		if v == nil {
			return nil
		}
		if err := claimed.Delete([]byte(jobID)); err != nil {
			return err
		}
		if !requeue {
			return nil
		}

		var j Job
		if err := json.Unmarshal(v, &j); err != nil {
			return err
		}
		j.AttemptCount++

		b := tx.Bucket(bucketPending)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		enc, err := json.Marshal(&j)
		if err != nil {
			return err
		}
		if err := b.Put(seqKey(seq), enc); err != nil {
			return err
		}
		job = &j
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: nack job %s: %v", ErrUnavailable, jobID, err)
	}
	if job != nil {
		q.notify()
	}
	return nil
}

// Recover moves every claimed job back to pending. Called once at startup,
// before any worker runs, so jobs claimed by a crashed process are not lost.
// Attempt counts are preserved.
func (q *Queue) Recover() (int, error) {
	var moved int
	err := q.db.Update(func(tx *bolt.Tx) error {
		claimed := tx.Bucket(bucketClaimed)
		pending := tx.Bucket(bucketPending)

		var orphans [][]byte
		if err := claimed.ForEach(func(k, v []byte) error {
			seq, err := pending.NextSequence()
			if err != nil {
				return err
			}
			if err := pending.Put(seqKey(seq), v); err != nil {
				return err
			}
			orphans = append(orphans, append([]byte(nil), k...))
			return nil
		}); err != nil {
			return err
		}

		for _, k := range orphans {
			if err := claimed.Delete(k); err != nil {
				return err
			}
		}
		moved = len(orphans)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: recover: %v", ErrUnavailable, err)
	}
	if moved > 0 {
		q.notify()
	}
	return moved, nil
}

// Depth returns the number of pending jobs.
func (q *Queue) Depth() (int, error) {
	return q.count(bucketPending)
}

// InFlight returns the number of claimed, unacked jobs.
func (q *Queue) InFlight() (int, error) {
	return q.count(bucketClaimed)
}

func (q *Queue) count(bucket []byte) (int, error) {
	var n int
	err := q.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucket).Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: count: %v", ErrUnavailable, err)
	}
	return n, nil
}

// Close closes the backing database.
func (q *Queue) Close() error {
	return q.db.Close()
}

func (q *Queue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}
