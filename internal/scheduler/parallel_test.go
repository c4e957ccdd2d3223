package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"
)

// Test10ParallelWorkers verifies that the scheduler runs 10 jobs in parallel
// and never exceeds the configured limits.
func Test10ParallelWorkers(t *testing.T) {
	cfg := &Config{
		GlobalMax: 10,
		ByKind: map[string]int{
			KindGenerate: 10,
		},
	}

	sch := New(cfg, nil)
	defer sch.Stop() // Ensure scheduler stops even on test failure to prevent goroutine leaks

	release := make(chan struct{})
	var (
		started sync.WaitGroup
		mu      sync.Mutex
		running int
		peak    int
	)

	numJobs := 10
	started.Add(numJobs)
	for i := 0; i < numJobs; i++ {
		err := sch.Go(KindGenerate, "campaign", func(ctx context.Context) {
			mu.Lock()
			running++
			if running > peak {
				peak = running
			}
			mu.Unlock()
			started.Done()

			select {
			case <-ctx.Done():
			case <-release:
			}

			mu.Lock()
			running--
			mu.Unlock()
		})
		if err != nil {
			t.Fatalf("Failed to dispatch job %d: %v", i, err)
		}
	}

	waitCh := make(chan struct{})
	go func() {
		started.Wait()
		close(waitCh)
	}()
	select {
	case <-waitCh:
	case <-time.After(10 * time.Second):
		t.Fatalf("Timeout waiting for 10 workers to be active")
	}

	if stats := sch.Stats(); stats.ActiveWorkers != numJobs {
		t.Errorf("Expected %d active workers, got %d", numJobs, stats.ActiveWorkers)
	}
	if err := sch.Go(KindGenerate, "overflow", func(ctx context.Context) {}); err == nil {
		t.Error("Expected 11th job to be rejected")
	}

	close(release)
	sch.Stop()

	mu.Lock()
	defer mu.Unlock()
	if peak != numJobs {
		t.Errorf("Expected peak concurrency %d, got %d", numJobs, peak)
	}
	if running != 0 {
		t.Errorf("Expected all workers to finish, %d still running", running)
	}
}
