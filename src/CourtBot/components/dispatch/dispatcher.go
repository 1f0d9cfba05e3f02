package dispatch

import (
	"container/heap"
	"context"
	"fmt"
	"sync"

	"github.com/Opizontas-Studio/courtbot/src/CourtBot/components/ratelimit"
)

// Priorities for queued jobs. Higher runs first, FIFO within a priority.
const (
	PriorityLow    = 0
	PriorityNormal = 5
	PriorityHigh   = 10
)

// Job performs one external call and returns its result.
type Job func(ctx context.Context) (interface{}, error)

type Result struct {
	Value interface{}
	Err   error
}

type task struct {
	ctx      context.Context
	routeKey string
	priority int
	seq      uint64
	job      Job
	done     chan Result
}

// Dispatcher executes jobs with a bounded concurrency degree, draining a
// priority queue. Every execution is admitted through the rate limiter for
// the route it targets.
type Dispatcher struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   taskHeap
	seq     uint64
	limiter *ratelimit.Limiter
	closed  bool
	wg      sync.WaitGroup
}

func New(limiter *ratelimit.Limiter, workers int) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	d := &Dispatcher{limiter: limiter}
	d.cond = sync.NewCond(&d.mu)
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.worker()
	}
	return d
}

// Add queues a job and returns a channel that receives its single result.
func (d *Dispatcher) Add(ctx context.Context, routeKey string, priority int, job Job) <-chan Result {
	t := &task{
		ctx:      ctx,
		routeKey: routeKey,
		priority: priority,
		job:      job,
		done:     make(chan Result, 1),
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		t.done <- Result{Err: fmt.Errorf("dispatcher closed")}
		return t.done
	}
	d.seq++
	t.seq = d.seq
	heap.Push(&d.queue, t)
	d.mu.Unlock()
	d.cond.Signal()
	return t.done
}

// Close stops the workers after the queue drains.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.cond.Broadcast()
	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		for d.queue.Len() == 0 && !d.closed {
			d.cond.Wait()
		}
		if d.queue.Len() == 0 && d.closed {
			d.mu.Unlock()
			return
		}
		t := heap.Pop(&d.queue).(*task)
		d.mu.Unlock()

		t.done <- d.run(t)
	}
}

// run admits the call and executes the job; a panic or error reaches only
// this job's caller.
func (d *Dispatcher) run(t *task) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Err: fmt.Errorf("job panic: %v", r)}
		}
	}()

	if err := t.limiterWait(d.limiter); err != nil {
		return Result{Err: err}
	}
	v, err := t.job(t.ctx)
	return Result{Value: v, Err: err}
}

func (t *task) limiterWait(l *ratelimit.Limiter) error {
	if l == nil {
		return nil
	}
	return l.WaitForSlot(t.ctx, t.routeKey)
}

// taskHeap orders by priority descending, then arrival order.
type taskHeap []*task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x interface{}) { *h = append(*h, x.(*task)) }

func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}
