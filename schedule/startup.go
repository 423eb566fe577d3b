/*
startup.go - One-shot warm-up jobs fired at process start.

Sales runs immediately; stock and incoming follow on staggered delays so
the first minutes after a restart are not three concurrent passes fighting
over one SQLite file. The runner tracks its goroutines: a WaitGroup joins
them on shutdown, failures are logged here, and each pass records its
outcome in sync_runs where the health endpoint can see it.
*/
package schedule

import (
	"context"
	"log"
	"sync"
	"time"
)

// StartupJob is one delayed warm-up task.
type StartupJob struct {
	Name  string
	Delay time.Duration
	Job   Job
}

// StartupRunner fires a fixed set of jobs once, each after its delay.
type StartupRunner struct {
	jobs []StartupJob

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewStartupRunner creates a runner for the given jobs.
func NewStartupRunner(jobs []StartupJob) *StartupRunner {
	return &StartupRunner{jobs: jobs, stop: make(chan struct{})}
}

// Start launches every job in its own goroutine.
func (r *StartupRunner) Start(ctx context.Context) {
	for _, j := range r.jobs {
		j := j
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if j.Delay > 0 {
				select {
				case <-time.After(j.Delay):
				case <-r.stop:
					return
				case <-ctx.Done():
					return
				}
			}
			log.Printf("[Startup] Running %s", j.Name)
			if err := j.Job(ctx); err != nil {
				log.Printf("[Startup] %s failed: %v", j.Name, err)
			}
		}()
	}
}

// Stop cancels pending delays and waits for running jobs to finish.
func (r *StartupRunner) Stop() {
	r.once.Do(func() { close(r.stop) })
	r.wg.Wait()
}
