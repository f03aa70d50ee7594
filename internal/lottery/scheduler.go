package lottery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

// Rules fixes when each cadence draws. All times are UTC.
type Rules struct {
	DailyHour     int
	DailyMinute   int
	WeeklyWeekday time.Weekday
	WeeklyHour    int
	WeeklyMinute  int
}

// DefaultRules draws daily at 20:00 UTC and weekly on Sunday 20:00 UTC.
// Hourly draws are always at the top of the hour and take no rule.
func DefaultRules() Rules {
	return Rules{
		DailyHour:     20,
		WeeklyWeekday: time.Sunday,
		WeeklyHour:    20,
	}
}

// NextDrawTime returns the next draw instant strictly after now for the given
// cadence. The result is the window identity for tickets sold between now and
// that instant.
func NextDrawTime(c Cadence, rules Rules, now time.Time) time.Time {
	now = now.UTC()
	switch c {
	case CadenceHourly:
		return now.Truncate(time.Hour).Add(time.Hour)
	case CadenceDaily:
		next := time.Date(now.Year(), now.Month(), now.Day(), rules.DailyHour, rules.DailyMinute, 0, 0, time.UTC)
		if !next.After(now) {
			next = next.Add(24 * time.Hour)
		}
		return next
	case CadenceWeekly:
		daysAhead := (int(rules.WeeklyWeekday) - int(now.Weekday()) + 7) % 7
		next := time.Date(now.Year(), now.Month(), now.Day(), rules.WeeklyHour, rules.WeeklyMinute, 0, 0, time.UTC)
		next = next.AddDate(0, 0, daysAhead)
		if !next.After(now) {
			next = next.AddDate(0, 0, 7)
		}
		return next
	}
	return time.Time{}
}

// DrawRunner fires one draw. Implemented by Engine.
type DrawRunner interface {
	Fire(ctx context.Context, cadence Cadence, window time.Time) (*DrawResult, error)
}

// WindowLister reports windows with unfinished business at or before a cutoff.
// Implemented by Store.
type WindowLister interface {
	UnsettledWindows(ctx context.Context, cadence Cadence, cutoff time.Time) ([]time.Time, error)
}

type SchedulerConfig struct {
	Logger  *slog.Logger
	Runner  DrawRunner
	Windows WindowLister
	Clock   clockwork.Clock
	Rules   Rules
	// Cadences to schedule. Defaults to all three.
	Cadences []Cadence
}

func (cfg *SchedulerConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Runner == nil {
		return errors.New("draw runner is required")
	}
	if cfg.Windows == nil {
		return errors.New("window lister is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Rules == (Rules{}) {
		cfg.Rules = DefaultRules()
	}
	if len(cfg.Cadences) == 0 {
		cfg.Cadences = Cadences()
	}
	for _, c := range cfg.Cadences {
		if !c.Valid() {
			return fmt.Errorf("invalid cadence %q", c)
		}
	}
	return nil
}

// Scheduler runs one loop per cadence. On startup each loop settles any
// missed windows oldest first, then waits for each draw instant in turn.
// Draw times are recomputed from the clock after every firing, so a draw that
// runs long never shifts subsequent windows.
type Scheduler struct {
	log *slog.Logger
	cfg SchedulerConfig
}

func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Scheduler{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

// Run blocks until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, cadence := range s.cfg.Cadences {
		g.Go(func() error {
			return s.runCadence(ctx, cadence)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Scheduler) runCadence(ctx context.Context, cadence Cadence) error {
	s.catchUp(ctx, cadence)

	for {
		next := NextDrawTime(cadence, s.cfg.Rules, s.cfg.Clock.Now())
		s.log.Info("scheduler: waiting for next draw", "cadence", cadence, "next", next)

		timer := s.cfg.Clock.NewTimer(next.Sub(s.cfg.Clock.Now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.Chan():
		}

		if _, err := s.cfg.Runner.Fire(ctx, cadence, next); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Error("scheduler: draw failed", "cadence", cadence, "window", next, "error", err)
		}
	}
}

// catchUp settles windows whose draw time passed while the process was down,
// oldest first so payouts land in draw order. Failures are logged and skipped;
// the window stays unsettled and is retried on the next startup.
func (s *Scheduler) catchUp(ctx context.Context, cadence Cadence) {
	now := s.cfg.Clock.Now()
	windows, err := s.cfg.Windows.UnsettledWindows(ctx, cadence, now)
	if err != nil {
		s.log.Error("scheduler: failed to list unsettled windows", "cadence", cadence, "error", err)
		return
	}
	if len(windows) == 0 {
		return
	}

	s.log.Warn("scheduler: settling missed windows", "cadence", cadence, "count", len(windows))
	for _, window := range windows {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.cfg.Runner.Fire(ctx, cadence, window); err != nil {
			s.log.Error("scheduler: failed to settle missed window",
				"cadence", cadence, "window", window, "error", err)
		}
	}
}
