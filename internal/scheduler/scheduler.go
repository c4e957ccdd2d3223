package scheduler

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrAtCapacity is returned when the global or per-kind limit is reached.
	ErrAtCapacity = errors.New("scheduler at capacity")
	// ErrStopped is returned after Stop.
	ErrStopped = errors.New("scheduler stopped")
)

// Job is one unit of background work. ctx is cancelled on Stop.
type Job func(ctx context.Context)

// Stats is a point-in-time view of the pool.
type Stats struct {
	ActiveWorkers int            `json:"activeWorkers"`
	GlobalMax     int            `json:"globalMax"`
	KindCounts    map[string]int `json:"kindCounts"`
}

// Scheduler manages background jobs and worker limits.
type Scheduler struct {
	config *Config
	global *semaphore.Weighted
	logger *zap.Logger

	// Worker pool state
	mu         sync.Mutex
	active     int
	kindCounts map[string]int
	stopped    bool

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new scheduler.
func New(cfg *Config, logger *zap.Logger) *Scheduler {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.GlobalMax < 1 {
		cfg.GlobalMax = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		config:     cfg,
		global:     semaphore.NewWeighted(int64(cfg.GlobalMax)),
		logger:     logger.With(zap.String("component", "scheduler")),
		kindCounts: make(map[string]int),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Go starts job in a worker when there is capacity. It never blocks.
func (sch *Scheduler) Go(kind, name string, job Job) error {
	sch.mu.Lock()
	if sch.stopped {
		sch.mu.Unlock()
		return ErrStopped
	}
	if sch.kindCounts[kind] >= sch.config.KindLimit(kind) {
		sch.mu.Unlock()
		return ErrAtCapacity
	}
	if !sch.global.TryAcquire(1) {
		sch.mu.Unlock()
		return ErrAtCapacity
	}
	sch.active++
	sch.kindCounts[kind]++
	sch.wg.Add(1)
	sch.mu.Unlock()

	sch.logger.Debug("dispatched job", zap.String("kind", kind), zap.String("name", name))
	go sch.runWorker(kind, name, job)
	return nil
}

// runWorker executes a job and frees its slot.
func (sch *Scheduler) runWorker(kind, name string, job Job) {
	defer sch.wg.Done()
	defer func() {
		sch.mu.Lock()
		sch.active--
		sch.kindCounts[kind]--
		sch.mu.Unlock()
		sch.global.Release(1)
	}()
	defer func() {
		if r := recover(); r != nil {
			sch.logger.Error("job panicked", zap.String("kind", kind), zap.String("name", name), zap.Any("panic", r))
		}
	}()

	job(sch.ctx)
	sch.logger.Debug("job finished", zap.String("kind", kind), zap.String("name", name))
}

// Stop cancels running jobs and waits for them to return.
func (sch *Scheduler) Stop() {
	sch.mu.Lock()
	sch.stopped = true
	sch.mu.Unlock()

	sch.cancel()
	sch.wg.Wait()
	sch.logger.Info("scheduler stopped")
}

// Stats returns current scheduler statistics.
func (sch *Scheduler) Stats() Stats {
	sch.mu.Lock()
	defer sch.mu.Unlock()

	counts := make(map[string]int, len(sch.kindCounts))
	for k, v := range sch.kindCounts {
		if v > 0 {
			counts[k] = v
		}
	}
	return Stats{
		ActiveWorkers: sch.active,
		GlobalMax:     sch.config.GlobalMax,
		KindCounts:    counts,
	}
}
