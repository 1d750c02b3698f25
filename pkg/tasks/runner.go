package tasks

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
)

const (
	PoolPages    = "pages"
	PoolPrefetch = "prefetch"

	DefaultPageWorkersMin = 10
	DefaultPageWorkersMax = 15
	DefaultPrefetch       = 2

	resultBuffer = 64
)

// ErrAlreadyConsuming is returned when a second consumer is attached.
var ErrAlreadyConsuming = errors.New("runner already has a consumer")

// Job is the work submitted to a pool. It runs on a pool goroutine and must
// not touch consumer-owned state; whatever it returns is handed to the
// consumer as a Result.
type Job func(ctx context.Context) (any, error)

type Result struct {
	Pool  string
	Key   string
	Value any
	Err   error
}

type PoolConfig struct {
	Name    string
	Workers int
}

// PageThumbnailWorkers sizes the page pool for a comic: one worker per ten
// pages, kept within [lo, hi].
func PageThumbnailWorkers(pageCount, lo, hi int) int {
	if lo <= 0 {
		lo = DefaultPageWorkersMin
	}
	if hi < lo {
		hi = lo
	}
	n := pageCount / 10
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

type queued struct {
	key string
	job Job
}

// Pool runs submitted jobs on a fixed number of goroutines. The queue is
// unbounded so Submit never blocks the consumer.
type Pool struct {
	name    string
	workers int

	mu      sync.Mutex
	pending []queued
	signal  chan struct{}
}

func (p *Pool) Name() string {
	return p.name
}

func (p *Pool) Workers() int {
	return p.workers
}

func (p *Pool) push(q queued) {
	p.mu.Lock()
	p.pending = append(p.pending, q)
	p.mu.Unlock()

	select {
	case p.signal <- struct{}{}:
	default:
	}
}

func (p *Pool) pop() (queued, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pending) == 0 {
		return queued{}, false
	}
	q := p.pending[0]
	p.pending[0] = queued{}
	p.pending = p.pending[1:]
	return q, true
}

// Pending returns the number of queued jobs not yet picked up.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Runner owns a set of pools and a single results channel. Exactly one
// Consume loop applies results, so consumer state needs no locking.
type Runner struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    logger.Logger

	pools   map[string]*Pool
	results chan Result

	alive     atomic.Bool
	consuming atomic.Bool
	shutdown  chan struct{}
	once      sync.Once
}

func NewRunner(ctx context.Context, pools ...PoolConfig) *Runner {
	ctx, cancel := context.WithCancel(ctx)
	r := &Runner{
		ctx:      ctx,
		cancel:   cancel,
		log:      logger.FromContext(ctx),
		pools:    make(map[string]*Pool, len(pools)),
		results:  make(chan Result, resultBuffer),
		shutdown: make(chan struct{}),
	}
	r.alive.Store(true)

	for _, pc := range pools {
		workers := pc.Workers
		if workers < 1 {
			workers = 1
		}
		p := &Pool{
			name:    pc.Name,
			workers: workers,
			signal:  make(chan struct{}, 1),
		}
		r.pools[pc.Name] = p
		for i := 0; i < workers; i++ {
			go r.work(p)
		}
	}

	return r
}

// Pool returns the named pool, or nil.
func (r *Runner) Pool(name string) *Pool {
	return r.pools[name]
}

// Alive reports whether Shutdown hasn't been called.
func (r *Runner) Alive() bool {
	return r.alive.Load()
}

// Submit queues job on the named pool. It never blocks and returns false
// when the runner is shut down or the pool doesn't exist.
func (r *Runner) Submit(pool, key string, job Job) bool {
	if !r.alive.Load() {
		return false
	}
	p, ok := r.pools[pool]
	if !ok {
		r.log.Warn("submit to unknown pool", logger.Data{"pool": pool, "key": key})
		return false
	}
	p.push(queued{key: key, job: job})
	return true
}

func (r *Runner) work(p *Pool) {
	for {
		q, ok := p.pop()
		if !ok {
			select {
			case <-r.shutdown:
				return
			case <-p.signal:
				continue
			}
		}

		if !r.alive.Load() {
			return
		}

		// Wake a sibling if more work is queued.
		if p.Pending() > 0 {
			select {
			case p.signal <- struct{}{}:
			default:
			}
		}

		value, err := q.job(r.ctx)

		// The owner may have gone away while the job ran.
		if !r.alive.Load() {
			return
		}
		select {
		case r.results <- Result{Pool: p.name, Key: q.key, Value: value, Err: err}:
		case <-r.shutdown:
			return
		}
	}
}

// Consume applies results on the calling goroutine until ctx is done or the
// runner shuts down. Only one Consume may run per runner.
func (r *Runner) Consume(ctx context.Context, apply func(Result)) error {
	if !r.consuming.CompareAndSwap(false, true) {
		return ErrAlreadyConsuming
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.shutdown:
			return nil
		case res := <-r.results:
			if !r.alive.Load() {
				return nil
			}
			apply(res)
		}
	}
}

// Shutdown stops accepting work, abandons whatever is queued and cancels the
// context passed to running jobs. It does not wait for them.
func (r *Runner) Shutdown() {
	r.once.Do(func() {
		r.alive.Store(false)
		close(r.shutdown)
		r.cancel()
	})
}
