package bot

import (
	"context"
	"sync"

	"mac-bot/pkg/logger"
)

// Dispatcher runs jobs of different users concurrently and the jobs of one
// user strictly in the order they were submitted.
type Dispatcher struct {
	mu     sync.Mutex
	queues map[int64][]func()
	wg     sync.WaitGroup
	sem    chan struct{}
	logger *logger.Logger
}

// NewDispatcher limits concurrently running jobs to workers; zero means no
// limit.
func NewDispatcher(workers int, log *logger.Logger) *Dispatcher {
	d := &Dispatcher{
		queues: make(map[int64][]func()),
		logger: log,
	}
	if workers > 0 {
		d.sem = make(chan struct{}, workers)
	}
	return d
}

func (d *Dispatcher) Submit(userID int64, job func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q, running := d.queues[userID]
	d.queues[userID] = append(q, job)
	if running {
		return
	}

	d.wg.Add(1)
	go d.drain(userID)
}

func (d *Dispatcher) drain(userID int64) {
	defer d.wg.Done()

	for {
		d.mu.Lock()
		q := d.queues[userID]
		if len(q) == 0 {
			delete(d.queues, userID)
			d.mu.Unlock()
			return
		}
		job := q[0]
		q[0] = nil
		d.queues[userID] = q[1:]
		d.mu.Unlock()

		d.run(userID, job)
	}
}

func (d *Dispatcher) run(userID int64, job func()) {
	if d.sem != nil {
		d.sem <- struct{}{}
		defer func() { <-d.sem }()
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Errorw("Recovered from panic while processing update", "user_id", userID, "error", r)
		}
	}()

	job()
}

// Wait blocks until every submitted job has run or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
