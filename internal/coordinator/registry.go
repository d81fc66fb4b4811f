package coordinator

import (
	"context"
	"sync"
)

// Handle is the in-process control block of one executing job.
type Handle struct {
	jobID  string
	cancel context.CancelFunc

	mu     sync.Mutex
	parked bool
}

// JobID returns the job this handle controls.
func (h *Handle) JobID() string { return h.jobID }

// park runs write while holding the handle and marks the handle parked when
// write reports success. A concurrent Wake sees either the state before the
// write or the parked handle, never the gap between them.
func (h *Handle) park(write func() (bool, error)) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ok, err := write()
	if ok {
		h.parked = true
	}
	return ok, err
}

func (h *Handle) isParked() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.parked
}

// Registry tracks the handles of jobs executing in this process.
type Registry struct {
	mu      sync.Mutex
	handles map[string]*Handle
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]*Handle)}
}

// Acquire registers a handle for jobID. It returns false when the job
// already executes here, in which case the returned context is nil.
func (r *Registry) Acquire(parent context.Context, jobID string) (context.Context, *Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.handles[jobID]; busy {
		return nil, nil, false
	}
	ctx, cancel := context.WithCancel(parent)
	h := &Handle{jobID: jobID, cancel: cancel}
	r.handles[jobID] = h
	return ctx, h, true
}

// Release drops h and cancels its context.
func (r *Registry) Release(h *Handle) {
	r.mu.Lock()
	if cur, ok := r.handles[h.jobID]; ok && cur == h {
		delete(r.handles, h.jobID)
	}
	r.mu.Unlock()
	h.cancel()
}

// Wake reports whether a live execution will pick up a resumed job. A parked
// handle is dropped on the spot so a re-queued run can acquire the job
// before the parked run finishes releasing it.
func (r *Registry) Wake(jobID string) bool {
	r.mu.Lock()
	h, ok := r.handles[jobID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	if !h.isParked() {
		return true
	}
	r.mu.Lock()
	if cur, ok := r.handles[jobID]; ok && cur == h {
		delete(r.handles, jobID)
	}
	r.mu.Unlock()
	return false
}

// Cancel aborts the job's in-flight work. It reports whether the job
// executes here.
func (r *Registry) Cancel(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[jobID]
	if ok {
		h.cancel()
	}
	return ok
}

// CancelAll aborts every executing job, leaving their records for recovery.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range r.handles {
		h.cancel()
	}
}

// Active reports whether jobID executes here.
func (r *Registry) Active(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.handles[jobID]
	return ok
}

// Len reports how many jobs execute here.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}
