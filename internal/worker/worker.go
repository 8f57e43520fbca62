// Package worker runs the processing pipeline: claim a job, transcribe the
// meeting's audio, summarize it, persist results, and acknowledge the job.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codebuildervaibhav/meeting-insights/internal/artifact"
	"github.com/codebuildervaibhav/meeting-insights/internal/cache"
	"github.com/codebuildervaibhav/meeting-insights/internal/meeting"
	"github.com/codebuildervaibhav/meeting-insights/internal/pipeline"
	"github.com/codebuildervaibhav/meeting-insights/internal/queue"
)

// dequeueErrBackoff is how long a worker waits after a failed dequeue before
// trying again.
const dequeueErrBackoff = time.Second

// Pool manages a pool of workers processing meeting jobs. Workers share no
// mutable state; the queue's claim protocol and the store's row-scoped
// updates provide all coordination.
type Pool struct {
	queue       *queue.Queue
	store       meeting.Store
	artifacts   *artifact.Store
	transcriber pipeline.Transcriber
	summarizer  pipeline.Summarizer
	cache       *cache.Cache

	size              int
	maxRetries        int
	transcribeTimeout time.Duration

	running atomic.Bool
	wg      sync.WaitGroup
}

// Options bundles the pool's tunables.
type Options struct {
	Size              int
	MaxRetries        int
	TranscribeTimeout time.Duration
}

// NewPool creates a worker pool. Dependencies are injected so tests can
// substitute fake transcription and summarization services.
func NewPool(
	q *queue.Queue,
	store meeting.Store,
	artifacts *artifact.Store,
	transcriber pipeline.Transcriber,
	summarizer pipeline.Summarizer,
	c *cache.Cache,
	opts Options,
) *Pool {
	return &Pool{
		queue:             q,
		store:             store,
		artifacts:         artifacts,
		transcriber:       transcriber,
		summarizer:        summarizer,
		cache:             c,
		size:              opts.Size,
		maxRetries:        opts.MaxRetries,
		transcribeTimeout: opts.TranscribeTimeout,
	}
}

// Start launches the workers. They run until ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	log.Printf("Starting worker pool with %d workers", p.size)
	p.running.Store(true)
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Wait blocks until all workers have exited after ctx cancellation.
func (p *Pool) Wait() {
	p.wg.Wait()
	p.running.Store(false)
}

// Running reports worker liveness for the health endpoint.
func (p *Pool) Running() bool { return p.running.Load() }

// Size returns the configured worker count.
func (p *Pool) Size() int { return p.size }

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	log.Printf("Worker %d started", id)

	for {
		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Printf("Worker %d stopping", id)
				return
			}
			// Back off so a persistent queue failure does not spin the loop.
			log.Printf("Worker %d: dequeue: %v", id, err)
			select {
			case <-ctx.Done():
				log.Printf("Worker %d stopping", id)
				return
			case <-time.After(dequeueErrBackoff):
			}
			continue
		}
		p.processJob(ctx, id, job)
	}
}

// processJob handles the complete pipeline for one job. A panic anywhere in
// the pipeline fails the meeting permanently instead of killing the worker.
func (p *Pool) processJob(ctx context.Context, workerID int, job *queue.Job) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Worker %d: PANIC processing job %s: %v\n%s",
				workerID, job.JobID, r, string(debug.Stack()))
			p.failTerminal(ctx, job, fmt.Sprintf("worker panic: %v", r))
		}
	}()

	log.Printf("Worker %d: processing job %s (meeting %s, attempt %d)",
		workerID, job.JobID, job.MeetingID, job.AttemptCount)

	rec, err := p.store.Get(ctx, job.MeetingID)
	if err != nil {
		if errors.Is(err, meeting.ErrNotFound) {
			// Meeting deleted while the job was queued; nothing to do.
			log.Printf("Worker %d: meeting %s gone, dropping job %s", workerID, job.MeetingID, job.JobID)
			p.ack(job)
			return
		}
		p.retryOrFail(ctx, job, fmt.Errorf("load meeting: %w", err))
		return
	}

	if err := p.store.MarkProcessing(ctx, job.MeetingID); err != nil {
		if errors.Is(err, meeting.ErrNotFound) || errors.Is(err, meeting.ErrTerminal) {
			// Redelivery of a job whose record already settled.
			log.Printf("Worker %d: meeting %s already settled, dropping job %s", workerID, job.MeetingID, job.JobID)
			p.ack(job)
			return
		}
		p.retryOrFail(ctx, job, fmt.Errorf("mark processing: %w", err))
		return
	}
	p.cache.Invalidate(cache.ListPrefix, cache.SearchPrefix)

	audioPath, err := p.artifacts.Path(rec.ArtifactID)
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			// The audio is gone for good; retrying cannot bring it back.
			p.failTerminal(ctx, job, "uploaded audio no longer available")
			return
		}
		p.retryOrFail(ctx, job, err)
		return
	}

	tctx, cancel := context.WithTimeout(ctx, p.transcribeTimeout)
	transcription, err := p.transcriber.Transcribe(tctx, audioPath, "")
	cancel()
	if err != nil {
		p.retryOrFail(ctx, job, err)
		return
	}

	summary, err := p.summarizer.Summarize(ctx, transcription.Text)
	if err != nil {
		p.retryOrFail(ctx, job, err)
		return
	}

	results := &meeting.Results{
		Transcript:      transcription.Text,
		Summary:         summary.Summary,
		Keywords:        summary.Keywords,
		Language:        transcription.Language,
		DurationSeconds: transcription.DurationSeconds,
	}
	if err := p.store.UpsertResults(ctx, job.MeetingID, results); err != nil {
		if errors.Is(err, meeting.ErrNotFound) {
			log.Printf("Worker %d: meeting %s deleted mid-job, dropping results", workerID, job.MeetingID)
			p.ack(job)
			return
		}
		p.retryOrFail(ctx, job, fmt.Errorf("persist results: %w", err))
		return
	}
	p.cache.Invalidate(cache.ListPrefix, cache.SearchPrefix)

	p.ack(job)
	log.Printf("Worker %d: job %s completed (meeting %s, %.1fs audio)",
		workerID, job.JobID, job.MeetingID, transcription.DurationSeconds)
}

// retryOrFail applies the retry policy: permanent failures settle the record
// immediately; transient ones consume the retry budget and requeue until it
// is exhausted.
func (p *Pool) retryOrFail(ctx context.Context, job *queue.Job, cause error) {
	if pipeline.IsPermanent(cause) {
		log.Printf("Job %s: permanent failure: %v", job.JobID, cause)
		p.failTerminal(ctx, job, cause.Error())
		return
	}

	retries, err := p.store.IncrementRetry(ctx, job.MeetingID)
	if err != nil {
		// Record gone: no state left to retry for.
		log.Printf("Job %s: increment retry: %v", job.JobID, err)
		p.ack(job)
		return
	}
	p.cache.Invalidate(cache.ListPrefix, cache.SearchPrefix)

	if retries < p.maxRetries {
		log.Printf("Job %s: transient failure (retry %d/%d): %v", job.JobID, retries, p.maxRetries, cause)
		if err := p.queue.Nack(job.JobID, true); err != nil {
			log.Printf("Job %s: nack: %v", job.JobID, err)
		}
		return
	}

	log.Printf("Job %s: retries exhausted: %v", job.JobID, cause)
	p.failTerminal(ctx, job, cause.Error())
}

// failTerminal records a terminal failure on the meeting and drops the job.
func (p *Pool) failTerminal(ctx context.Context, job *queue.Job, reason string) {
	if err := p.store.MarkFailed(ctx, job.MeetingID, reason); err != nil && !errors.Is(err, meeting.ErrNotFound) {
		log.Printf("Job %s: mark failed: %v", job.JobID, err)
	}
	p.cache.Invalidate(cache.ListPrefix, cache.SearchPrefix)
	if err := p.queue.Nack(job.JobID, false); err != nil {
		log.Printf("Job %s: drop: %v", job.JobID, err)
	}
}

func (p *Pool) ack(job *queue.Job) {
	if err := p.queue.Ack(job.JobID); err != nil {
		log.Printf("Job %s: ack: %v", job.JobID, err)
	}
}
