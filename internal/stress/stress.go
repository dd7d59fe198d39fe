// Package stress drives a workqueue with concurrent producers and flushers and
// checks the flush guarantee: when Flush returns, every item whose Queue call
// returned before Flush was called has run exactly once.
package stress

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aatumaykin/deferq/internal/logger"
	"github.com/aatumaykin/deferq/internal/workqueue"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var (
	// ErrQueueRejected is returned when the workqueue refuses a fresh item.
	ErrQueueRejected = errors.New("stress: workqueue rejected item")
	// ErrFlushViolation is logged when a flush returns before a prior item ran.
	ErrFlushViolation = errors.New("stress: flush returned before prior item ran")
)

// Config describes one run.
type Config struct {
	Producers int
	Flushers  int
	Items     int
	// Rate limits each producer in items per second; zero means unlimited.
	Rate  float64
	Burst int
	// WorkDuration is slept inside every callback.
	WorkDuration time.Duration
}

func DefaultConfig() Config {
	return Config{
		Producers: 2,
		Flushers:  4,
		Items:     1000,
		Burst:     1,
	}
}

func (c Config) Validate() error {
	switch {
	case c.Producers < 1:
		return fmt.Errorf("stress: producers must be >= 1, got %d", c.Producers)
	case c.Flushers < 0:
		return fmt.Errorf("stress: flushers must be >= 0, got %d", c.Flushers)
	case c.Items < c.Producers:
		return fmt.Errorf("stress: need at least one item per producer, got %d items", c.Items)
	case c.Rate < 0:
		return fmt.Errorf("stress: rate must be >= 0, got %v", c.Rate)
	case c.WorkDuration < 0:
		return fmt.Errorf("stress: work duration must be >= 0, got %v", c.WorkDuration)
	}
	return nil
}

// Report summarises a run.
type Report struct {
	Items           int
	Executed        int64
	Flushes         int64
	Violations      int64
	DoubleRuns      int64
	Duration        time.Duration
	MaxFlushLatency time.Duration
}

// OK reports whether the run saw no guarantee violations.
func (r Report) OK() bool {
	return r.Violations == 0 && r.DoubleRuns == 0 && r.Executed == int64(r.Items)
}

type item struct {
	work *workqueue.Work
	runs atomic.Int32
}

// producer owns a contiguous slice of items; submitted counts the items whose
// Queue call has returned.
type producer struct {
	id        int
	items     []*item
	submitted atomic.Int64
}

type runner struct {
	wq        *workqueue.Workqueue
	cfg       Config
	log       *logger.Logger
	producers []*producer

	executed   atomic.Int64
	doubleRuns atomic.Int64
	flushes    atomic.Int64
	violations atomic.Int64

	latencyMu  sync.Mutex
	maxLatency time.Duration
}

// Run executes the scenario on wq and returns the report. Run flushes wq
// before returning.
func Run(ctx context.Context, wq *workqueue.Workqueue, cfg Config, log *logger.Logger) (Report, error) {
	if err := cfg.Validate(); err != nil {
		return Report{}, err
	}
	if log == nil {
		log = logger.Nop()
	}

	r := &runner{wq: wq, cfg: cfg, log: log.Named("stress")}
	r.buildItems()

	start := time.Now()
	err := r.run(ctx)
	wq.Flush()
	r.verifyAll()

	rep := Report{
		Items:           cfg.Items,
		Executed:        r.executed.Load(),
		Flushes:         r.flushes.Load(),
		Violations:      r.violations.Load(),
		DoubleRuns:      r.doubleRuns.Load(),
		Duration:        time.Since(start),
		MaxFlushLatency: r.maxLatency,
	}

	r.log.Info("stress run finished",
		logger.Field{Key: "workqueue", Value: wq.Name()},
		logger.Field{Key: "items", Value: rep.Items},
		logger.Field{Key: "flushes", Value: rep.Flushes},
		logger.Field{Key: "violations", Value: rep.Violations},
		logger.Field{Key: "duration", Value: rep.Duration})
	return rep, err
}

func (r *runner) buildItems() {
	per := r.cfg.Items / r.cfg.Producers
	extra := r.cfg.Items % r.cfg.Producers

	r.producers = make([]*producer, r.cfg.Producers)
	for p := range r.producers {
		n := per
		if p < extra {
			n++
		}
		pr := &producer{id: p, items: make([]*item, n)}
		for i := range pr.items {
			it := &item{}
			it.work = workqueue.NewWork(r.callback(it), workqueue.WithWorkName(fmt.Sprintf("stress-%d-%d", p, i)))
			pr.items[i] = it
		}
		r.producers[p] = pr
	}
}

func (r *runner) callback(it *item) workqueue.WorkFunc {
	return func(*workqueue.Work) {
		if d := r.cfg.WorkDuration; d > 0 {
			time.Sleep(d)
		}
		if it.runs.Add(1) > 1 {
			r.doubleRuns.Add(1)
		}
		r.executed.Add(1)
	}
}

func (r *runner) run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	producersDone := make(chan struct{})

	var pg sync.WaitGroup
	for _, p := range r.producers {
		pg.Add(1)
		g.Go(func() error {
			defer pg.Done()
			return r.produce(ctx, p)
		})
	}
	go func() {
		pg.Wait()
		close(producersDone)
	}()

	for f := 0; f < r.cfg.Flushers; f++ {
		g.Go(func() error {
			return r.flushLoop(ctx, producersDone)
		})
	}

	return g.Wait()
}

func (r *runner) produce(ctx context.Context, p *producer) error {
	limit := rate.Inf
	if r.cfg.Rate > 0 {
		limit = rate.Limit(r.cfg.Rate)
	}
	burst := r.cfg.Burst
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(limit, burst)

	for i, it := range p.items {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		if !r.wq.Queue(it.work) {
			return fmt.Errorf("%w: producer %d item %d", ErrQueueRejected, p.id, i)
		}
		p.submitted.Store(int64(i + 1))
	}
	return nil
}

// flushLoop flushes until the producers are done, then once more.
func (r *runner) flushLoop(ctx context.Context, producersDone <-chan struct{}) error {
	for {
		last := false
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-producersDone:
			last = true
		default:
		}

		r.flushAndVerify()
		if last {
			return nil
		}
	}
}

func (r *runner) flushAndVerify() {
	epoch := make([]int64, len(r.producers))
	for i, p := range r.producers {
		epoch[i] = p.submitted.Load()
	}

	start := time.Now()
	r.wq.Flush()
	latency := time.Since(start)
	r.flushes.Add(1)

	r.latencyMu.Lock()
	if latency > r.maxLatency {
		r.maxLatency = latency
	}
	r.latencyMu.Unlock()

	for i, p := range r.producers {
		for _, it := range p.items[:epoch[i]] {
			if it.runs.Load() == 0 {
				r.violations.Add(1)
				r.log.Error("flush guarantee violated", ErrFlushViolation,
					logger.Field{Key: "item", Value: it.work.Name()})
			}
		}
	}
}

func (r *runner) verifyAll() {
	for _, p := range r.producers {
		for _, it := range p.items[:p.submitted.Load()] {
			if it.runs.Load() == 0 {
				r.violations.Add(1)
			}
		}
	}
}
