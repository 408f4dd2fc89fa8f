package queue

import (
	"context"
	"fmt"
	"log"

	"github.com/panjf2000/ants/v2"
)

// LocalDispatcher runs tasks on in-process goroutine pools, one pool per
// queue class so slow media downloads cannot starve short tasks.
type LocalDispatcher struct {
	registry *Registry
	pools    map[string]*ants.Pool
}

func NewLocalDispatcher(registry *Registry, poolSize int) (*LocalDispatcher, error) {
	if poolSize <= 0 {
		poolSize = 32
	}

	pools := make(map[string]*ants.Pool, 2)
	for _, class := range []string{ClassShort, ClassLong} {
		pool, err := ants.NewPool(poolSize)
		if err != nil {
			return nil, err
		}
		pools[class] = pool
	}
	return &LocalDispatcher{registry: registry, pools: pools}, nil
}

func (d *LocalDispatcher) Submit(ctx context.Context, task string, payload interface{}, queueClass string) error {
	h, ok := d.registry.handler(task)
	if !ok {
		return fmt.Errorf("no handler registered for task %q", task)
	}

	body, err := encodePayload(payload)
	if err != nil {
		return err
	}

	pool, ok := d.pools[queueClass]
	if !ok {
		pool = d.pools[ClassShort]
	}

	// Task failures stay inside the task: logged, never propagated to the
	// submitter or to sibling tasks.
	return pool.Submit(func() {
		if err := h(context.Background(), body); err != nil {
			log.Printf("Task %s failed: %v", task, err)
		}
	})
}

// Release shuts the pools down. Pending tasks are dropped.
func (d *LocalDispatcher) Release() {
	for _, pool := range d.pools {
		pool.Release()
	}
}
