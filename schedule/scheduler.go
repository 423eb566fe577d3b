/*
Package schedule runs sync jobs at fixed wall-clock times.

PURPOSE:
  A single background loop for the process lifetime, independent of the
  HTTP path. Each registration carries a next-due timestamp; once per
  minute the loop fires every entry whose due time has been reached and
  advances it to the next day. An overdue entry fires late, never skips:
  a long pass that overruns another entry's registered time only delays
  it until the next check. Overlap is impossible by construction - jobs
  run synchronously, in registration order.

DESIGN:
  The scheduler is an explicit object with its own registration table and
  Start/Stop lifecycle, not process-wide state. The Clock is injectable so
  tests drive it with fake time instead of sleeping.

USAGE:
  s := schedule.New(nil)
  s.At("12:15", "sales", func(ctx context.Context) error { ... })
  s.Start()
  defer s.Stop()

SEE ALSO:
  - startup.go: one-shot warm-up jobs fired at process start
  - ingest/: the jobs being scheduled
*/
package schedule

import (
	"context"
	"log"
	"sync"
	"time"
)

// Clock abstracts wall-clock access for tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Job is a unit of scheduled work.
type Job func(ctx context.Context) error

type entry struct {
	name         string
	hour, minute int
	due          time.Time // next instant this entry fires
	job          Job
}

// Scheduler fires registered jobs when the clock reaches their due time.
type Scheduler struct {
	clock    Clock
	interval time.Duration

	mu      sync.Mutex
	entries []*entry

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
}

// New creates a scheduler. A nil clock selects the real clock.
func New(clock Clock) *Scheduler {
	if clock == nil {
		clock = realClock{}
	}
	return &Scheduler{
		clock:    clock,
		interval: time.Minute,
		stop:     make(chan struct{}),
	}
}

// At registers a job to fire daily at the given "HH:MM" time. The first
// due time is today's occurrence if its minute has not passed yet,
// otherwise tomorrow's.
func (s *Scheduler) At(at, name string, job Job) {
	t, err := time.Parse("15:04", at)
	if err != nil {
		log.Printf("[Scheduler] Ignoring %s: bad time %q: %v", name, at, err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, &entry{
		name:   name,
		hour:   t.Hour(),
		minute: t.Minute(),
		due:    firstDue(s.clock.Now(), t.Hour(), t.Minute()),
		job:    job,
	})
}

// Start begins the background loop.
func (s *Scheduler) Start() {
	s.ticker = time.NewTicker(s.interval)
	s.wg.Add(1)
	go s.run()
	log.Printf("[Scheduler] Started with %d registered jobs", len(s.entries))
}

// Stop halts the loop and waits for an in-flight check to finish.
func (s *Scheduler) Stop() {
	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	log.Println("[Scheduler] Stopped")
}

func (s *Scheduler) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ticker.C:
			s.RunPending(context.Background())
		case <-s.stop:
			return
		}
	}
}

// RunPending fires every entry whose due time has been reached and
// advances it past now to the next daily slot. Exported so tests (and the
// ticker loop) share one code path.
func (s *Scheduler) RunPending(ctx context.Context) {
	now := s.clock.Now()

	s.mu.Lock()
	var due []*entry
	for _, e := range s.entries {
		if now.Before(e.due) {
			continue
		}
		due = append(due, e)
		// An entry overdue by several days still fires once.
		for !now.Before(e.due) {
			e.due = e.due.AddDate(0, 0, 1)
		}
	}
	s.mu.Unlock()

	// Sequential on purpose: jobs share one SQLite file and one remote
	// session; overlapping passes would only fight over locks.
	for _, e := range due {
		log.Printf("[Scheduler] Firing %s (%02d:%02d)", e.name, e.hour, e.minute)
		if err := e.job(ctx); err != nil {
			log.Printf("[Scheduler] Job %s failed: %v", e.name, err)
		}
	}
}

// firstDue returns the first occurrence of hour:minute at or after the
// start of now's minute.
func firstDue(now time.Time, hour, minute int) time.Time {
	due := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if due.Before(now.Truncate(time.Minute)) {
		due = due.AddDate(0, 0, 1)
	}
	return due
}
