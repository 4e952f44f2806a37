/******************************************************************************
 *
 *  Description :
 *    Bounded pool of goroutines for running blocking calls such as agent requests.
 *
 *****************************************************************************/
package concurrency

import (
	"context"
	"errors"
	"sync"
)

// ErrStopped is returned when a task is scheduled on a stopped pool.
var ErrStopped = errors.New("goroutine pool is stopped")

// Task represents a work task to be run on the specified thread pool.
type Task func()

// GoRoutinePool runs tasks on at most `numWorkers` goroutines. Workers are started lazily.
type GoRoutinePool struct {
	// Work queue.
	work chan Task
	// Counter to control the number of already allocated/running goroutines.
	sem chan struct{}
	// Exit knob, closed by Stop.
	stop     chan struct{}
	stopOnce sync.Once
}

// NewGoRoutinePool allocates a new thread pool with `numWorkers` goroutines.
func NewGoRoutinePool(numWorkers int) *GoRoutinePool {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	return &GoRoutinePool{
		work: make(chan Task),
		sem:  make(chan struct{}, numWorkers),
		stop: make(chan struct{}),
	}
}

// Schedule hands the task to an idle worker or starts a new one. If all workers are busy,
// it blocks until one becomes available, the context is cancelled or the pool is stopped.
func (p *GoRoutinePool) Schedule(ctx context.Context, task Task) error {
	select {
	case <-p.stop:
		return ErrStopped
	default:
	}

	select {
	case p.work <- task:
	case p.sem <- struct{}{}:
		go p.worker(task)
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stop:
		return ErrStopped
	}
	return nil
}

// Workers returns the number of running worker goroutines.
func (p *GoRoutinePool) Workers() int {
	return len(p.sem)
}

// Stop signals all workers to exit after the current task. Safe to call more than once.
func (p *GoRoutinePool) Stop() {
	p.stopOnce.Do(func() {
		close(p.stop)
	})
}

// Thread pool worker goroutine.
func (p *GoRoutinePool) worker(task Task) {
	defer func() { <-p.sem }()
	for {
		task()
		select {
		case task = <-p.work:
		case <-p.stop:
			return
		}
	}
}
