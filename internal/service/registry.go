package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// TaskName is the closed set of job names the pipeline produces and consumes.
type TaskName string

const (
	TaskGeocodeAddress   TaskName = "geocode-address"
	TaskAssignRouteGroup TaskName = "assign-route-group"
	TaskOptimizeRoutes   TaskName = "optimize-routes"
	TaskSendEmail        TaskName = "send-email"
	TaskSendReminders    TaskName = "send-reminders"
)

func KnownTasks() []TaskName {
	return []TaskName{
		TaskGeocodeAddress,
		TaskAssignRouteGroup,
		TaskOptimizeRoutes,
		TaskSendEmail,
		TaskSendReminders,
	}
}

func (n TaskName) Valid() bool {
	for _, k := range KnownTasks() {
		if n == k {
			return true
		}
	}
	return false
}

// Handler executes one job. Returning an error schedules a retry unless the
// error is wrapped with Permanent or the job is out of attempts.
type Handler interface {
	Handle(ctx context.Context, payload json.RawMessage) error
}

type HandlerFunc func(ctx context.Context, payload json.RawMessage) error

func (f HandlerFunc) Handle(ctx context.Context, payload json.RawMessage) error {
	return f(ctx, payload)
}

// Typed adapts a handler that takes a decoded payload. A payload that does not
// decode into T fails the job permanently.
func Typed[T any](fn func(ctx context.Context, payload T) error) Handler {
	return HandlerFunc(func(ctx context.Context, raw json.RawMessage) error {
		var p T
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &p); err != nil {
				return Permanent(fmt.Errorf("decode payload: %w", err))
			}
		}
		return fn(ctx, p)
	})
}

// Registry maps task names to handlers. Each name can be registered once; a
// second Register for the same name fails and keeps the first handler.
type Registry struct {
	mu       sync.RWMutex
	handlers map[TaskName]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[TaskName]Handler)}
}

func (r *Registry) Register(name TaskName, h Handler) error {
	if !name.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownTask, name)
	}
	if h == nil {
		return fmt.Errorf("register %q: nil handler", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateHandler, name)
	}
	r.handlers[name] = h
	return nil
}

func (r *Registry) MustRegister(name TaskName, h Handler) {
	if err := r.Register(name, h); err != nil {
		panic(err)
	}
}

func (r *Registry) Lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[TaskName(name)]
	return h, ok
}

// Missing lists known tasks that have no handler yet.
func (r *Registry) Missing() []TaskName {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []TaskName
	for _, n := range KnownTasks() {
		if _, ok := r.handlers[n]; !ok {
			out = append(out, n)
		}
	}
	return out
}
