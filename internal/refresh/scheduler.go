// Package refresh reloads the carousels on a cron schedule.
package refresh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "airdeck/internal/log"
)

// Target is refreshed on every tick. *dashboard.Service implements it.
type Target interface {
	RefreshAll(ctx context.Context) error
}

// Scheduler runs Target.RefreshAll on a standard 5-field cron spec
// (descriptors such as "@every 5m" are accepted). Ticks that arrive while
// a refresh is still running are skipped.
type Scheduler struct {
	spec   string
	target Target
	cron   *cron.Cron
	id     cron.EntryID

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New validates spec and prepares a scheduler. It does not start it.
func New(spec string, target Target) (*Scheduler, error) {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("refresh: invalid schedule %q: %w", spec, err)
	}

	logger := cronLogger{}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	s := &Scheduler{spec: spec, target: target, cron: c}
	s.id = c.Schedule(sched, cron.FuncJob(s.tick))
	return s, nil
}

// Start begins ticking. Refreshes run under a context derived from ctx,
// which Stop cancels.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.cron.Start()
	appLog.Info("refresh scheduler started", "spec", s.spec, "next", s.Next().Format(time.RFC3339))
}

// Stop halts the schedule, cancels a running refresh and waits for it to
// return or for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		appLog.Warn("refresh scheduler stop timed out")
	}
}

// RunNow refreshes immediately, outside the schedule.
func (s *Scheduler) RunNow(ctx context.Context) error {
	start := time.Now()
	err := s.target.RefreshAll(ctx)
	if err != nil {
		appLog.Error("refresh failed", err, "elapsed", time.Since(start).String())
		return err
	}
	appLog.Debug("refresh completed", "elapsed", time.Since(start).String())
	return nil
}

// Next returns the next scheduled tick, or the zero time before Start.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.id).Next
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	_ = s.RunNow(ctx)
}

// cronLogger routes cron's own messages into the application log.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...interface{}) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...interface{}) {
	appLog.Error("cron: "+msg, err, kv...)
}
