package job

import "sync"

// Registry tracks live and recently finished jobs by ID. Safe for concurrent
// use.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*Job)}
}

// Add registers a job under its ID.
func (r *Registry) Add(j *Job) {
	r.mu.Lock()
	r.jobs[j.ID] = j
	r.mu.Unlock()
}

// Get returns the job with the given ID, or nil.
func (r *Registry) Get(id string) *Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.jobs[id]
}

// Cancel requests cancellation of the job with the given ID. Returns false
// when the job does not exist or is already terminal.
func (r *Registry) Cancel(id string) bool {
	j := r.Get(id)
	if j == nil {
		return false
	}
	return j.Cancel()
}

// Remove drops a job from the registry. The job itself is unaffected.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.jobs, id)
	r.mu.Unlock()
}

// Snapshots returns a view of every registered job. Order is unspecified.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Snapshot, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j.Snapshot())
	}
	return out
}

// Len returns the number of registered jobs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}
