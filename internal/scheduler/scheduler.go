// Package scheduler fires registered jobs once per day at their trigger
// times.
//
// The de-duplication is deliberately explicit rather than delegated to a cron
// library: each trigger-time key carries a fired-on date stamp, a key fires
// only when the minute-truncated clock matches it and the stamp is not
// today's date, and the stamp going stale at midnight re-arms the key. Missed
// minutes (process pause) are not caught up.
package scheduler

import (
	"context"
	"sync"
	"time"

	"medremind/internal/reminder"
	"medremind/pkg/logx"
)

// Job is the unit of work fired at a trigger time.
type Job interface {
	ID() string
	Run(ctx context.Context)
}

// Config controls the tick cadence and the firing worker pool.
type Config struct {
	TickInterval time.Duration // default 1s
	Workers      int           // default 4
	QueueSize    int           // default 64
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	return c
}

// ConflictError reports an invariant violation: a trigger-time key that
// validation should have rejected reached the scheduler.
type ConflictError struct {
	Key reminder.TimeOfDay
}

func (e *ConflictError) Error() string {
	return "scheduling conflict: invalid trigger key " + e.Key.String()
}

// Service owns the trigger-time index and the tick loop. One instance per
// process: construct at startup, Start once, Stop on shutdown.
type Service struct {
	cfg Config
	log logx.Logger

	mu    sync.Mutex
	jobs  map[reminder.TimeOfDay][]Job
	byID  map[string]reminder.TimeOfDay
	fired map[reminder.TimeOfDay]string // key -> civil date last fired

	runMu   sync.Mutex
	queue   chan Job
	stopCh  chan struct{}
	baseCtx context.Context
	wg      sync.WaitGroup
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:   cfg.withDefaults(),
		log:   log,
		jobs:  map[reminder.TimeOfDay][]Job{},
		byID:  map[string]reminder.TimeOfDay{},
		fired: map[reminder.TimeOfDay]string{},
	}
}

// Add registers job under the given trigger time. Multiple jobs may share a
// key. Registration is allowed before Start and while running.
func (s *Service) Add(at reminder.TimeOfDay, job Job) error {
	if !at.Valid() {
		return &ConflictError{Key: at}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[at] = append(s.jobs[at], job)
	s.byID[job.ID()] = at
	return nil
}

// Remove unregisters the job with the given id. Removing an unknown id is a
// no-op.
func (s *Service) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.byID[id]
	if !ok {
		return
	}
	delete(s.byID, id)
	js := s.jobs[at]
	for i, j := range js {
		if j.ID() == id {
			s.jobs[at] = append(js[:i], js[i+1:]...)
			break
		}
	}
	if len(s.jobs[at]) == 0 {
		delete(s.jobs, at)
		delete(s.fired, at)
	}
}

// JobCount reports the number of registered jobs.
func (s *Service) JobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// Start launches the tick loop and the firing workers. Calling Start twice
// is a no-op.
func (s *Service) Start(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.stopCh != nil {
		return
	}
	s.stopCh = make(chan struct{})
	s.baseCtx = ctx
	s.queue = make(chan Job, s.cfg.QueueSize)

	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx, s.stopCh)
	}

	s.wg.Add(1)
	go s.loop(ctx, s.stopCh)

	s.log.Info("scheduler started",
		logx.Duration("tick", s.cfg.TickInterval),
		logx.Int("workers", s.cfg.Workers))
}

// Stop halts the tick loop and waits for in-flight firings to finish.
func (s *Service) Stop(ctx context.Context) {
	s.runMu.Lock()
	if s.stopCh == nil {
		s.runMu.Unlock()
		return
	}
	close(s.stopCh)
	s.stopCh = nil
	s.runMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out waiting for firings")
	}
	s.log.Info("scheduler stopped")
}

func (s *Service) loop(ctx context.Context, stopCh <-chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case now := <-ticker.C:
			s.tick(now)
		}
	}
}

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			// Drain what is already due so a shutdown right after a
			// firing boundary does not silently drop reminders.
			for {
				select {
				case j := <-s.queue:
					j.Run(ctx)
				default:
					return
				}
			}
		case j := <-s.queue:
			j.Run(ctx)
		}
	}
}

// tick fires every job whose key matches now (minute granularity) and has
// not fired today. The fired-on stamp is advanced before the jobs run, so a
// slow dispatch cannot cause a second firing in the same minute.
func (s *Service) tick(now time.Time) {
	key := reminder.TimeOfDay{Hour: now.Hour(), Minute: now.Minute()}
	today := civilDate(now)

	s.mu.Lock()
	js := s.jobs[key]
	if len(js) == 0 || s.fired[key] == today {
		s.mu.Unlock()
		return
	}
	s.fired[key] = today
	due := make([]Job, len(js))
	copy(due, js)
	s.mu.Unlock()

	s.log.Info("trigger due", logx.String("at", key.String()), logx.Int("jobs", len(due)))
	for _, j := range due {
		s.submit(j)
	}
}

// submit hands a job to the worker pool. Before Start (tests, mostly) the
// job runs inline. On queue overflow the job runs on its own goroutine:
// dropping a reminder would break the once-per-day guarantee in the wrong
// direction.
func (s *Service) submit(j Job) {
	s.runMu.Lock()
	queue, ctx := s.queue, s.baseCtx
	s.runMu.Unlock()
	if queue == nil {
		j.Run(context.Background())
		return
	}
	select {
	case queue <- j:
	default:
		s.log.Warn("firing queue full, running job directly", logx.String("job", j.ID()))
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			j.Run(ctx)
		}()
	}
}

func civilDate(t time.Time) string {
	return t.Format("2006-01-02")
}
