package core

import (
	"iter"
	"sync"
)

// Registry holds declared tasks in registration order.
//
// It is safe for concurrent use. Tasks are validated and canonicalized at
// registration; a registered task never changes.
type Registry struct {
	mu     sync.RWMutex
	tasks  []Task
	byName map[string]int
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]int)}
}

// Register adds t. Every referenced task must already be registered.
func (r *Registry) Register(t Task) error {
	ct, err := Canonicalize(t)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[ct.Name]; exists {
		return &DuplicateTaskError{Name: ct.Name}
	}
	for _, dep := range ct.Dependencies() {
		if _, ok := r.byName[dep]; !ok {
			return &UnknownDependencyError{Task: ct.Name, Dependency: dep}
		}
	}

	r.byName[ct.Name] = len(r.tasks)
	r.tasks = append(r.tasks, ct)
	return nil
}

// MustRegister is Register for static pipeline definitions; it panics on error.
func (r *Registry) MustRegister(t Task) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Len returns the number of registered tasks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}

// Lookup returns the task registered under name.
func (r *Registry) Lookup(name string) (Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.byName[name]
	if !ok {
		return Task{}, false
	}
	return r.tasks[i], true
}

// AllTasks yields the registered tasks in registration order. Each call to
// the returned sequence starts over and sees the tasks registered so far.
func (r *Registry) AllTasks() iter.Seq[Task] {
	return func(yield func(Task) bool) {
		r.mu.RLock()
		n := len(r.tasks)
		r.mu.RUnlock()
		for i := 0; i < n; i++ {
			r.mu.RLock()
			t := r.tasks[i]
			r.mu.RUnlock()
			if !yield(t) {
				return
			}
		}
	}
}

// Snapshot returns an immutable view of the current registry contents.
func (r *Registry) Snapshot() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := &Snapshot{
		tasks:  append([]Task(nil), r.tasks...),
		byName: make(map[string]int, len(r.byName)),
	}
	for k, v := range r.byName {
		s.byName[k] = v
	}
	return s
}

// Snapshot is a frozen set of registered tasks.
type Snapshot struct {
	tasks  []Task
	byName map[string]int
}

// Len returns the number of tasks.
func (s *Snapshot) Len() int { return len(s.tasks) }

// Tasks returns a copy of the tasks in registration order.
func (s *Snapshot) Tasks() []Task { return append([]Task(nil), s.tasks...) }

// Task returns the task named name.
func (s *Snapshot) Task(name string) (Task, bool) {
	i, ok := s.byName[name]
	if !ok {
		return Task{}, false
	}
	return s.tasks[i], true
}

// Index returns the registration index of name, or -1.
func (s *Snapshot) Index(name string) int {
	i, ok := s.byName[name]
	if !ok {
		return -1
	}
	return i
}

// AllTasks yields tasks in registration order.
func (s *Snapshot) AllTasks() iter.Seq[Task] {
	return func(yield func(Task) bool) {
		for _, t := range s.tasks {
			if !yield(t) {
				return
			}
		}
	}
}
