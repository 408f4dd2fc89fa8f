package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Queue classes. Short is for webhook classification, consent updates and
// forwarding; long is for media downloads.
const (
	ClassShort = "short"
	ClassLong  = "long"
)

// Handler processes one task payload. Handlers run with at-least-once
// delivery semantics and must be safe to re-run.
type Handler func(ctx context.Context, payload []byte) error

// Dispatcher submits named tasks for asynchronous execution. The submitting
// side's contract ends at "task submitted": execution, ordering and retry
// policy belong to the backend.
type Dispatcher interface {
	Submit(ctx context.Context, task string, payload interface{}, queueClass string) error
}

// Registry maps task names to handlers. Both backends dispatch through it.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(task string, h Handler) {
	r.mu.Lock()
	r.handlers[task] = h
	r.mu.Unlock()
}

func (r *Registry) handler(task string) (Handler, bool) {
	r.mu.RLock()
	h, ok := r.handlers[task]
	r.mu.RUnlock()
	return h, ok
}

func encodePayload(payload interface{}) ([]byte, error) {
	if payload == nil {
		return nil, nil
	}
	if raw, ok := payload.([]byte); ok {
		return raw, nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode task payload: %w", err)
	}
	return body, nil
}
