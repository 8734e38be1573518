// Package scheduler runs actions on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/rendis/actionkit/internal/logging"
	"github.com/rendis/actionkit/internal/store"
	"github.com/rendis/actionkit/pkg/action"
	"github.com/rendis/actionkit/pkg/schema"
)

// Job invokes Action with Input whenever Schedule fires.
type Job struct {
	Name     string `yaml:"name" json:"name"`
	Schedule string `yaml:"schedule" json:"schedule"`
	Action   string `yaml:"action" json:"action"`
	Input    any    `yaml:"input" json:"input,omitempty"`
}

// Resolver finds actions by name. *actions.Registry satisfies it.
type Resolver interface {
	Get(name string) (action.Invoker, error)
}

// RunRecorder persists the outcome of each run. store.Store satisfies it.
type RunRecorder interface {
	RecordScheduledRun(ctx context.Context, run *store.ScheduledRun) error
}

type scheduledJob struct {
	Job
	schedule cron.Schedule
	invoker  action.Invoker
	next     time.Time
}

// Scheduler checks its jobs on every tick and runs the due ones on a
// bounded pool. A job never overlaps with itself: a run still in flight
// makes the next firing a no-op.
type Scheduler struct {
	jobs     []*scheduledJob
	pool     *Pool
	runs     RunRecorder
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	// stateMu guards inflight and each job's next firing.
	stateMu  sync.Mutex
	inflight map[string]struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithConcurrency bounds how many runs execute at once (default 4).
func WithConcurrency(n int) Option {
	return func(s *Scheduler) { s.pool = NewPool(n) }
}

// WithTickInterval sets how often due jobs are checked (default 1s).
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithRunRecorder persists every run.
func WithRunRecorder(r RunRecorder) Option {
	return func(s *Scheduler) { s.runs = r }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule parses a five or six field cron expression or a descriptor
// such as "@hourly" or "@every 5m".
func ParseSchedule(expr string) (cron.Schedule, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse cron expression %q: %w", expr, err)
	}
	return sched, nil
}

// New validates jobs against the resolver and builds a Scheduler. Job names
// must be unique; schedules must parse; actions must exist.
func New(resolver Resolver, jobs []Job, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		logger:   slog.Default(),
		interval: time.Second,
		now:      time.Now,
		inflight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.pool == nil {
		s.pool = NewPool(4)
	}

	now := s.now()
	seen := make(map[string]bool, len(jobs))
	for _, j := range jobs {
		if j.Name == "" {
			return nil, schema.NewError(schema.ErrCodeBadRequest, "scheduled job name is empty")
		}
		if seen[j.Name] {
			return nil, schema.NewErrorf(schema.ErrCodeConflict, "scheduled job %q defined twice", j.Name)
		}
		seen[j.Name] = true

		sched, err := ParseSchedule(j.Schedule)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeBadRequest, "scheduled job %q: %v", j.Name, err).WithCause(err)
		}
		inv, err := resolver.Get(j.Action)
		if err != nil {
			return nil, fmt.Errorf("scheduled job %q: %w", j.Name, err)
		}
		s.jobs = append(s.jobs, &scheduledJob{Job: j, schedule: sched, invoker: inv, next: sched.Next(now)})
	}
	return s, nil
}

// Start launches the background loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(schedCtx, s.done)
	s.logger.Info("scheduler started", slog.Int("jobs", len(s.jobs)))
	return nil
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, s.now())
		}
	}
}

// due advances the next firing of every job due at now and returns them.
func (s *Scheduler) due(now time.Time) []*scheduledJob {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	var out []*scheduledJob
	for _, job := range s.jobs {
		if job.next.After(now) {
			continue
		}
		job.next = job.schedule.Next(now)
		out = append(out, job)
	}
	return out
}

// tick hands every due job to the pool.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	for _, job := range s.due(now) {
		if !s.tryAcquire(job.Name) {
			s.logger.Warn("scheduled job still running, skipping", slog.String("job", job.Name))
			continue
		}
		j := job
		err := s.pool.TrySubmit(ctx, func(ctx context.Context) error {
			defer s.releaseJob(j.Name)
			return s.run(ctx, j)
		})
		if err != nil {
			s.releaseJob(job.Name)
			s.logger.Warn("scheduled job not started",
				slog.String("job", job.Name),
				slog.String("error", err.Error()))
		}
	}
}

// run invokes the job's action once and records the outcome.
func (s *Scheduler) run(ctx context.Context, job *scheduledJob) error {
	invocationID := uuid.NewString()
	ctx = logging.WithIDs(ctx, invocationID, job.Action)
	log := logging.LogWith(ctx, s.logger).With(slog.String("job", job.Name))

	started := s.now()
	_, aErr, sig := job.invoker.InvokeAny(ctx, job.Input, action.WithInvocationID(invocationID))

	status := schema.InvocationStatusSuccess
	var runErr error
	switch {
	case sig != nil:
		status = schema.InvocationStatusSignalled
	case aErr != nil:
		status = schema.InvocationStatusFailed
		if aErr.Code == schema.ErrCodeTimeout {
			status = schema.InvocationStatusTimedOut
		}
		runErr = aErr
		log.Error("scheduled job failed", slog.String("code", aErr.Code), slog.String("message", aErr.Message))
	default:
		log.Info("scheduled job completed", slog.Duration("duration", s.now().Sub(started)))
	}

	if s.runs != nil {
		rec := &store.ScheduledRun{
			JobName:      job.Name,
			InvocationID: invocationID,
			LastRunAt:    started,
			LastStatus:   status,
		}
		if err := s.runs.RecordScheduledRun(context.WithoutCancel(ctx), rec); err != nil {
			log.Error("record scheduled run", slog.Any("error", err))
		}
	}
	return runErr
}

// RunNow runs the named job immediately on the caller's goroutine, unless
// it is already running.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	for _, job := range s.jobs {
		if job.Name != name {
			continue
		}
		if !s.tryAcquire(name) {
			return schema.NewErrorf(schema.ErrCodeConflict, "scheduled job %q is already running", name)
		}
		defer s.releaseJob(name)
		return s.run(ctx, job)
	}
	return schema.NewErrorf(schema.ErrCodeNotFound, "scheduled job %q not found", name)
}

// JobStatus describes a job and its next firing.
type JobStatus struct {
	Job
	Next    time.Time `json:"next"`
	Running bool      `json:"running"`
}

// Jobs lists the jobs sorted by name.
func (s *Scheduler) Jobs() []JobStatus {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		_, running := s.inflight[j.Name]
		out = append(out, JobStatus{Job: j.Job, Next: j.next, Running: running})
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

// tryAcquire returns true and marks the job as in-flight if it is not already running.
func (s *Scheduler) tryAcquire(name string) bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if _, ok := s.inflight[name]; ok {
		return false
	}
	s.inflight[name] = struct{}{}
	return true
}

// releaseJob removes the job from the in-flight set.
func (s *Scheduler) releaseJob(name string) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	delete(s.inflight, name)
}

// Stop halts the loop and waits for running jobs. A stopped Scheduler
// cannot be started again.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		s.pool.Shutdown()
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
	s.pool.Shutdown()

	s.logger.Info("scheduler stopped")
	return nil
}

// Metrics returns the pool counters.
func (s *Scheduler) Metrics() PoolMetrics {
	return s.pool.Metrics()
}
