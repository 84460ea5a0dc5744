// Package routines provides a simple fixed-size goroutine pool.
package routines

import "sync"

// Pool runs queued functions in a fixed number of goroutines.
type Pool struct {
	workChan chan func()
	wg       sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewPool starts a pool with routines goroutines.
func NewPool(routines uint) *Pool {
	p := Pool{
		workChan: make(chan func()),
	}

	p.wg.Add(int(routines))

	for i := uint(0); i < routines; i++ {
		go func() {
			defer p.wg.Done()

			for fn := range p.workChan {
				fn()
			}
		}()
	}

	return &p
}

// Queue schedules fn for execution.
// It blocks until a goroutine of the pool is free to pick it up.
// Calling Queue after Wait panics.
func (p *Pool) Queue(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		panic("Queue() called after Wait()")
	}

	p.workChan <- fn
}

// Wait stops the pool and blocks until all queued functions finished.
// It can be called multiple times.
func (p *Pool) Wait() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.workChan)
	}
	p.mu.Unlock()

	p.wg.Wait()
}
