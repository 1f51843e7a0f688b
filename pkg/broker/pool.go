package broker

import "context"

// pool bounds how many handlers run at once.
type pool struct {
	sem chan struct{}
}

// newPool creates a pool with at least one slot and at most 128 slots.
func newPool(size int) *pool {
	if size <= 0 {
		size = 1
	}
	if size > 128 {
		size = 128
	}
	return &pool{sem: make(chan struct{}, size)}
}

// acquire blocks until a slot is free or ctx is done.
func (p *pool) acquire(ctx context.Context) error {
	select {
	case p.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pool) release() {
	<-p.sem
}
