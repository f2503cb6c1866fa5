package worker

import (
	"context"
	"sync"

	"github.com/seoatlas/seoatlas-api/internal/models"
)

// Handler processes one claimed job. A nil return marks the job done; a
// permanent error (see IsPermanent) fails it; anything else requeues it
// with backoff until the attempt budget runs out.
type Handler interface {
	Handle(ctx context.Context, job *models.Job) error
}

// FailureHandler is implemented by handlers that need to run domain
// cleanup when their job fails terminally, after the last attempt or on
// a permanent error.
type FailureHandler interface {
	HandleFailure(ctx context.Context, job *models.Job, cause string)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, job *models.Job) error

func (f HandlerFunc) Handle(ctx context.Context, job *models.Job) error {
	return f(ctx, job)
}

// Registry maps job types to their handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[models.JobType]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[models.JobType]Handler)}
}

// Register binds a handler to a job type, replacing any previous one.
func (r *Registry) Register(jobType models.JobType, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[jobType] = h
}

// Get returns the handler for a job type, or nil.
func (r *Registry) Get(jobType models.JobType) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[jobType]
}
