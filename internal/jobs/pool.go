// Package jobs runs background work for the terrain engine.
//
// Work is submitted to named arenas, each backed by a Pool of goroutines.
// Submission never blocks the caller: when every queue of an arena is full
// the job is rejected and its Future stays abandoned, so the caller simply
// retries on a later frame.
package jobs

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Pool is a fixed set of goroutines, each with its own queue. Idle workers
// steal from the other queues.
//
// Thread safety: Pool is safe for concurrent use.
type Pool struct {
	name       string
	workers    int
	workQueues []chan func()
	done       chan struct{}
	wg         sync.WaitGroup
	running    atomic.Bool

	// closeMu orders submissions before Close: a job accepted by TrySubmit
	// is always queued before done is closed, so a worker drains it.
	closeMu sync.RWMutex

	submitted atomic.Uint64
	rejected  atomic.Uint64
}

// NewPool creates a pool named name with the given number of workers.
// If workers is 0 or negative, GOMAXPROCS is used.
func NewPool(name string, workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	queueSize := workers * 64
	if queueSize < 64 {
		queueSize = 64
	}

	p := &Pool{
		name:       name,
		workers:    workers,
		workQueues: make([]chan func(), workers),
		done:       make(chan struct{}),
	}
	for i := range workers {
		p.workQueues[i] = make(chan func(), queueSize)
	}

	p.running.Store(true)
	p.wg.Add(workers)
	for i := range workers {
		go p.worker(i)
	}
	return p
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	myQueue := p.workQueues[id]
	for {
		select {
		case <-p.done:
			p.drainQueue(myQueue)
			return
		case work := <-myQueue:
			run(work)
		default:
			if stolen := p.steal(id); stolen != nil {
				run(stolen)
				continue
			}
			select {
			case <-p.done:
				p.drainQueue(myQueue)
				return
			case work := <-myQueue:
				run(work)
			}
		}
	}
}

func run(work func()) {
	if work != nil {
		work()
	}
}

func (p *Pool) drainQueue(queue chan func()) {
	for {
		select {
		case work := <-queue:
			run(work)
		default:
			return
		}
	}
}

func (p *Pool) steal(myID int) func() {
	for i := range p.workers {
		if i == myID {
			continue
		}
		select {
		case work := <-p.workQueues[i]:
			return work
		default:
		}
	}
	return nil
}

// TrySubmit queues fn on the worker with the shortest queue.
// It returns false without blocking if the pool is closed or every queue is
// full.
func (p *Pool) TrySubmit(fn func()) bool {
	if fn == nil {
		return false
	}
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()
	if !p.running.Load() {
		return false
	}

	minLen := len(p.workQueues[0])
	minIdx := 0
	for i := 1; i < p.workers; i++ {
		if l := len(p.workQueues[i]); l < minLen {
			minLen = l
			minIdx = i
		}
	}

	select {
	case p.workQueues[minIdx] <- fn:
		p.submitted.Add(1)
		return true
	default:
	}
	p.rejected.Add(1)
	slogger().Warn("jobs: queue full, job rejected", "arena", p.name, "queued", p.QueuedWork())
	return false
}

// Close stops accepting work, runs what is already queued and waits for the
// workers to exit. Close is safe to call multiple times.
func (p *Pool) Close() {
	p.closeMu.Lock()
	if !p.running.CompareAndSwap(true, false) {
		p.closeMu.Unlock()
		return
	}
	close(p.done)
	p.closeMu.Unlock()
	p.wg.Wait()
}

// Name returns the arena name of the pool.
func (p *Pool) Name() string { return p.name }

// Workers returns the number of workers in the pool.
func (p *Pool) Workers() int { return p.workers }

// IsRunning returns true if the pool is still accepting work.
func (p *Pool) IsRunning() bool { return p.running.Load() }

// QueuedWork returns an approximate count of queued work items.
func (p *Pool) QueuedWork() int {
	total := 0
	for _, q := range p.workQueues {
		total += len(q)
	}
	return total
}

// Stats returns the number of accepted and rejected submissions.
func (p *Pool) Stats() (submitted, rejected uint64) {
	return p.submitted.Load(), p.rejected.Load()
}
