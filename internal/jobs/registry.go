// Package jobs owns the lifecycle of import jobs: admission of at most one
// active import, the background worker and the status/cancel queries.
package jobs

import (
	"context"
	"errors"
	"sync"

	"catalog-import-service/internal/models"
)

var (
	ErrJobNotFound       = errors.New("import job not found")
	ErrJobNotCancellable = errors.New("import job is not pending or processing")
	ErrJobFinished       = errors.New("import job already finished")
)

// Registry holds every job of the process. The active job's worker is its
// only writer; readers always get deep copies.
type Registry struct {
	mu       sync.RWMutex
	jobs     map[string]*models.ImportJob
	cancels  map[string]context.CancelFunc
	activeID string
}

func NewRegistry() *Registry {
	return &Registry{
		jobs:    make(map[string]*models.ImportJob),
		cancels: make(map[string]context.CancelFunc),
	}
}

// Admit stores job as the active job. If another job is pending or
// processing, nothing is stored and that job's id is returned with false.
func (r *Registry) Admit(job *models.ImportJob, cancel context.CancelFunc) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.activeID != "" {
		return r.activeID, false
	}
	r.jobs[job.ID] = job
	r.cancels[job.ID] = cancel
	r.activeID = job.ID
	return job.ID, true
}

func (r *Registry) Get(id string) (models.ImportJob, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return models.ImportJob{}, false
	}
	return job.Clone(), true
}

// Active returns the pending or processing job, if any.
func (r *Registry) Active() (models.ImportJob, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.activeID == "" {
		return models.ImportJob{}, false
	}
	return r.jobs[r.activeID].Clone(), true
}

// Update applies fn to the job under the write lock and returns the resulting
// snapshot. Once fn moves the job to a terminal status the slot is released
// and the job accepts no further updates.
func (r *Registry) Update(id string, fn func(job *models.ImportJob)) (models.ImportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return models.ImportJob{}, ErrJobNotFound
	}
	if job.Status.IsTerminal() {
		return job.Clone(), ErrJobFinished
	}

	fn(job)

	if job.Status.IsTerminal() {
		if cancel, ok := r.cancels[id]; ok {
			cancel()
			delete(r.cancels, id)
		}
		if r.activeID == id {
			r.activeID = ""
		}
	}
	return job.Clone(), nil
}

// RequestCancel flips the job's cancellation intent. The status is left to
// the worker.
func (r *Registry) RequestCancel(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if !job.Status.IsActive() {
		return ErrJobNotCancellable
	}
	if cancel, ok := r.cancels[id]; ok {
		cancel()
	}
	return nil
}

// CancelActive requests cancellation of the active job and reports whether
// there was one.
func (r *Registry) CancelActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.activeID == "" {
		return false
	}
	if cancel, ok := r.cancels[r.activeID]; ok {
		cancel()
	}
	return true
}
