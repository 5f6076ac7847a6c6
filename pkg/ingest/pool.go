package ingest

import (
	"sync"
	"sync/atomic"
)

// workerPool runs batch changes on a fixed set of goroutines.
type workerPool struct {
	maxWorkers int
	taskCh     chan Change
	workerFn   func(Change)
	logger     Logger

	running  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	tasksProcessed atomic.Int64
}

func newWorkerPool(maxWorkers int, workerFn func(Change), logger Logger) *workerPool {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	return &workerPool{
		maxWorkers: maxWorkers,
		taskCh:     make(chan Change),
		workerFn:   workerFn,
		logger:     logger,
		stopCh:     make(chan struct{}),
	}
}

func (p *workerPool) Start() {
	if p.running.Swap(true) {
		return
	}
	for i := 0; i < p.maxWorkers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Stop waits for in-flight changes to finish.
func (p *workerPool) Stop() {
	p.stopOnce.Do(func() {
		p.running.Store(false)
		close(p.stopCh)
		p.wg.Wait()
	})
}

// Submit blocks until a worker takes the change. It reports false once
// the pool is stopped.
func (p *workerPool) Submit(c Change) bool {
	if !p.running.Load() {
		return false
	}
	select {
	case p.taskCh <- c:
		return true
	case <-p.stopCh:
		return false
	}
}

func (p *workerPool) worker() {
	defer p.wg.Done()
	for {
		select {
		case c := <-p.taskCh:
			p.process(c)
		case <-p.stopCh:
			return
		}
	}
}

func (p *workerPool) process(c Change) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("ingest worker panic", "path", c.Path, "panic", r)
		}
	}()
	p.workerFn(c)
	p.tasksProcessed.Add(1)
}

// processed counts changes whose worker returned without panicking.
func (p *workerPool) processed() int64 {
	return p.tasksProcessed.Load()
}
