// Package registry implements the task registry: an in-memory map from
// task_id to owned worker, plus the monotonic id counter. Only the
// dispatcher inserts and removes tasks; the debug web UI only reads
// snapshots, and no worker ever reaches into it.
package registry

import (
	"log"
	"sync"

	"danga.com/saturnd/internal/clock"
	"danga.com/saturnd/internal/protocol"
	"danga.com/saturnd/internal/worker"
)

// Registry owns every live worker, keyed by task_id, plus the id counter.
// It replaces the original C daemon's three lockstep arrays (workers, thread
// handles, running-id list) with one owning map.
type Registry struct {
	mu      sync.Mutex
	workers map[uint64]*worker.Worker
	order   []uint64 // insertion order, for deterministic snapshots
	nextID  uint64

	clock  clock.Source
	logger *log.Logger
	spawn  worker.Spawner
}

// New creates an empty registry. clk and logger are threaded through to
// every worker it creates; spawn lets tests substitute a fake process
// launcher (see internal/worker).
func New(clk clock.Source, logger *log.Logger, spawn worker.Spawner) *Registry {
	return &Registry{
		workers: make(map[uint64]*worker.Worker),
		clock:   clk,
		logger:  logger,
		spawn:   spawn,
	}
}

// Insert assigns the next task_id, starts a worker for task, and returns the
// assigned id. task.ID is overwritten with the assigned id.
func (r *Registry) Insert(task protocol.Task) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	task.ID = id
	w := worker.New(task, r.clock, r.logger, r.spawn)
	r.workers[id] = w
	r.order = append(r.order, id)
	return id
}

// Remove stops and removes the worker for id. Reports false if id is
// unknown.
func (r *Registry) Remove(id uint64) bool {
	r.mu.Lock()
	w, ok := r.workers[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.workers, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	w.Stop()
	return true
}

// Contains reports whether id is registered.
func (r *Registry) Contains(id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.workers[id]
	return ok
}

// Get returns the worker for id, for read-only snapshot access.
func (r *Registry) Get(id uint64) (*worker.Worker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[id]
	return w, ok
}

// SnapshotRunning returns the Task descriptor of every registered worker, in
// insertion order. There is no stopped-but-present state to filter out:
// every entry in the map is alive by construction.
func (r *Registry) SnapshotRunning() []protocol.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	tasks := make([]protocol.Task, 0, len(r.order))
	for _, id := range r.order {
		tasks = append(tasks, r.workers[id].Task())
	}
	return tasks
}

// StopAll stops and joins every worker, used on TERMINATE.
func (r *Registry) StopAll() {
	r.mu.Lock()
	workers := make([]*worker.Worker, 0, len(r.workers))
	for _, w := range r.workers {
		workers = append(workers, w)
	}
	r.workers = make(map[uint64]*worker.Worker)
	r.order = nil
	r.mu.Unlock()

	for _, w := range workers {
		w.Stop()
	}
}
