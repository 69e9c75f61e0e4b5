// Package api provides HTTP handlers for the scatter-LOD server.
package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log"
	"sync"
	"time"

	"github.com/scatter-lod/server/internal/store"
)

// JobManagerConfig contains configuration for the rebuild job manager.
type JobManagerConfig struct {
	MaxConcurrent int // Max concurrent rebuilds (default 1)
	RetentionDays int // Days to keep finished jobs (default 7)
	CleanupPeriod time.Duration
}

// JobManager runs ladder rebuild jobs with SQLite persistence. The store is
// shared with the ladder persistence layer and stays owned by the caller.
type JobManager struct {
	cfg      JobManagerConfig
	store    *store.Store
	queue    chan string // job IDs
	running  map[string]context.CancelFunc
	mu       sync.Mutex
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}

	// Executor rebuilds the named dataset's ladders.
	Executor func(ctx context.Context, datasetID string) error
}

// NewJobManager creates a job manager backed by the given store.
func NewJobManager(st *store.Store, cfg JobManagerConfig) *JobManager {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 7
	}
	if cfg.CleanupPeriod <= 0 {
		cfg.CleanupPeriod = 1 * time.Hour
	}
	return &JobManager{
		cfg:     cfg,
		store:   st,
		queue:   make(chan string, 100),
		running: make(map[string]context.CancelFunc),
		stopCh:  make(chan struct{}),
	}
}

// Start starts the worker goroutines and cleanup ticker.
// Also recovers from a previous shutdown.
func (jm *JobManager) Start() {
	// Jobs left running by a crashed process will never finish.
	if err := jm.store.MarkRunningAsFailed("server restarted"); err != nil {
		log.Printf("[JobManager] failed to mark running jobs as failed: %v", err)
	}

	queued, err := jm.store.ListQueuedJobs()
	if err != nil {
		log.Printf("[JobManager] failed to list queued jobs: %v", err)
	} else {
		for _, job := range queued {
			select {
			case jm.queue <- job.ID:
				log.Printf("[JobManager] re-queued job %s", job.ID)
			default:
				log.Printf("[JobManager] queue full, cannot re-queue job %s", job.ID)
			}
		}
	}

	for i := 0; i < jm.cfg.MaxConcurrent; i++ {
		jm.wg.Add(1)
		go jm.worker()
	}

	go jm.cleaner()
}

// Stop stops all workers gracefully. The store is left open for the caller.
func (jm *JobManager) Stop() {
	jm.stopOnce.Do(func() {
		close(jm.stopCh)
		close(jm.queue)
		jm.wg.Wait()
	})
}

func (jm *JobManager) worker() {
	defer jm.wg.Done()
	for jobID := range jm.queue {
		jm.runJob(jobID)
	}
}

func (jm *JobManager) runJob(jobID string) {
	job, err := jm.store.GetJob(jobID)
	if err != nil || job == nil {
		log.Printf("[JobManager] job %s vanished before start: %v", jobID, err)
		return
	}
	if job.Status != store.JobStatusQueued {
		// Cancelled while waiting in the queue.
		return
	}

	ctx, cancel := context.WithCancel(context.Background())

	jm.mu.Lock()
	jm.running[jobID] = cancel
	jm.mu.Unlock()

	defer func() {
		jm.mu.Lock()
		delete(jm.running, jobID)
		jm.mu.Unlock()
	}()

	if err := jm.store.MarkJobRunning(jobID); err != nil {
		log.Printf("[JobManager] failed to mark job %s running: %v", jobID, err)
		return
	}

	var execErr error
	if jm.Executor != nil {
		execErr = jm.Executor(ctx, job.DatasetID)
	}

	if ctx.Err() == context.Canceled {
		jm.store.FinishJob(jobID, store.JobStatusCancelled, "cancelled by user")
	} else if execErr != nil {
		jm.store.FinishJob(jobID, store.JobStatusFailed, execErr.Error())
	} else {
		jm.store.FinishJob(jobID, store.JobStatusCompleted, "")
	}
}

func (jm *JobManager) cleaner() {
	ticker := time.NewTicker(jm.cfg.CleanupPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-jm.stopCh:
			return
		case <-ticker.C:
			jm.cleanup()
		}
	}
}

func (jm *JobManager) cleanup() {
	cutoff := time.Now().AddDate(0, 0, -jm.cfg.RetentionDays)
	deleted, err := jm.store.DeleteFinishedJobsBefore(cutoff)
	if err != nil {
		log.Printf("[JobManager] cleanup error: %v", err)
	} else if deleted > 0 {
		log.Printf("[JobManager] cleaned up %d expired jobs", deleted)
	}
}

// Submit creates a new rebuild job for a dataset and enqueues it.
func (jm *JobManager) Submit(datasetID string) (*store.RebuildJob, error) {
	id := generateJobID()
	if err := jm.store.CreateJob(id, datasetID); err != nil {
		return nil, err
	}

	select {
	case jm.queue <- id:
	default:
		jm.store.FinishJob(id, store.JobStatusFailed, "job queue is full; try again later")
	}

	return jm.store.GetJob(id)
}

// Get returns a job by ID, or nil when it does not exist.
func (jm *JobManager) Get(id string) *store.RebuildJob {
	job, err := jm.store.GetJob(id)
	if err != nil {
		log.Printf("[JobManager] error getting job %s: %v", id, err)
		return nil
	}
	return job
}

// Cancel attempts to cancel a queued or running job.
func (jm *JobManager) Cancel(id string) bool {
	jm.mu.Lock()
	cancel, ok := jm.running[id]
	jm.mu.Unlock()

	if ok && cancel != nil {
		cancel()
		return true
	}

	job, err := jm.store.GetJob(id)
	if err != nil || job == nil {
		return false
	}
	if job.Status == store.JobStatusQueued {
		jm.store.FinishJob(id, store.JobStatusCancelled, "cancelled before start")
		return true
	}
	return false
}

func generateJobID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}
