package worker

import (
	"context"
	"sync"
	"time"
)

// activeJob is the in-memory state for one claimed job. The owning executor
// creates it on registration and destroys it in cleanup; the shutdown path
// may fire cancel and stopHeartbeat for jobs that outlive the drain deadline.
type activeJob struct {
	startedAt     time.Time
	cancel        context.CancelFunc
	stopHeartbeat func()
}

// Registry tracks the jobs this process is currently executing. Claim
// correctness lives in the database; the registry only prevents one process
// from dispatching the same job twice and gives shutdown a handle on
// everything still running.
type Registry struct {
	mu   sync.Mutex
	jobs map[string]*activeJob
	wg   sync.WaitGroup
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*activeJob)}
}

// Register claims a local slot for the job. Returns false when the job is
// already being executed by this process.
func (r *Registry) Register(jobID string, cancel context.CancelFunc) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[jobID]; exists {
		return false
	}
	r.jobs[jobID] = &activeJob{startedAt: time.Now(), cancel: cancel}
	r.wg.Add(1)
	return true
}

// SetHeartbeatStop attaches the heartbeat stop function to a registered job
// so CancelAll can silence it
func (r *Registry) SetHeartbeatStop(jobID string, stop func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job, ok := r.jobs[jobID]; ok {
		job.stopHeartbeat = stop
	}
}

// Release frees the job's slot. Safe to call for IDs that were never
// registered.
func (r *Registry) Release(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[jobID]; !exists {
		return
	}
	delete(r.jobs, jobID)
	r.wg.Done()
}

// Contains reports whether the job is currently executing in this process
func (r *Registry) Contains(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.jobs[jobID]
	return ok
}

// Len returns the number of locally executing jobs
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// IDs returns the IDs of all locally executing jobs
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.jobs))
	for id := range r.jobs {
		ids = append(ids, id)
	}
	return ids
}

// CancelAll stops every registered job's heartbeat and fires its cancel
// signal, returning the affected IDs. Slots are still released by each
// executor's own cleanup as it unwinds.
func (r *Registry) CancelAll() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.jobs))
	for id, job := range r.jobs {
		if job.stopHeartbeat != nil {
			job.stopHeartbeat()
		}
		if job.cancel != nil {
			job.cancel()
		}
		ids = append(ids, id)
	}
	return ids
}

// Wait blocks until every registered job has been released
func (r *Registry) Wait() {
	r.wg.Wait()
}
