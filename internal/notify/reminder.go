package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lottolabs/sollotto/internal/lottery"
	"github.com/lottolabs/sollotto/internal/metrics"
	"github.com/lottolabs/sollotto/internal/wallet"
)

const defaultReminderHour = 9 // UTC

// Announcer posts a raw message to the broadcast channel.
type Announcer interface {
	Announce(ctx context.Context, text string) error
}

// SubscriberLister reports which owners opted in to a reminder kind.
// Implemented by wallet.Registry.
type SubscriberLister interface {
	Subscribers(ctx context.Context, kind wallet.NotificationFrequency) ([]string, error)
}

type ReminderConfig struct {
	Logger      *slog.Logger
	Announcer   Announcer
	Subscribers SubscriberLister
	Clock       clockwork.Clock
	Rules       lottery.Rules
	// Hour is the UTC hour reminders go out. Defaults to 09:00.
	Hour int
}

func (cfg *ReminderConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Announcer == nil {
		return errors.New("announcer is required")
	}
	if cfg.Subscribers == nil {
		return errors.New("subscriber lister is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Rules == (lottery.Rules{}) {
		cfg.Rules = lottery.DefaultRules()
	}
	if cfg.Hour == 0 {
		cfg.Hour = defaultReminderHour
	}
	return nil
}

// Reminder posts a daily-draw reminder every morning and adds the weekly-draw
// reminder on the weekly draw day. Each reminder goes out only when at least
// one owner subscribed to that kind, and mentions the subscribed owners.
type Reminder struct {
	log *slog.Logger
	cfg ReminderConfig
}

func NewReminder(cfg ReminderConfig) (*Reminder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Reminder{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

// Run blocks until ctx is canceled.
func (r *Reminder) Run(ctx context.Context) error {
	for {
		next := r.nextReminderTime(r.cfg.Clock.Now())
		r.log.Debug("reminder: waiting", "next", next)

		timer := r.cfg.Clock.NewTimer(next.Sub(r.cfg.Clock.Now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.Chan():
		}

		r.send(ctx, next)
	}
}

func (r *Reminder) nextReminderTime(now time.Time) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), r.cfg.Hour, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}

func (r *Reminder) send(ctx context.Context, at time.Time) {
	r.remind(ctx, lottery.CadenceDaily, wallet.NotifyDaily, at)

	if at.UTC().Weekday() == r.cfg.Rules.WeeklyWeekday {
		r.remind(ctx, lottery.CadenceWeekly, wallet.NotifyWeekly, at)
	}
}

// remind announces one reminder kind to its subscribers. Owners who opted out
// are never mentioned, and a kind nobody subscribed to is skipped entirely.
func (r *Reminder) remind(ctx context.Context, cadence lottery.Cadence, kind wallet.NotificationFrequency, at time.Time) {
	owners, err := r.cfg.Subscribers.Subscribers(ctx, kind)
	if err != nil {
		r.log.Error("reminder: failed to list subscribers", "cadence", cadence, "error", err)
		return
	}
	if len(owners) == 0 {
		r.log.Debug("reminder: no subscribers", "cadence", cadence)
		return
	}

	drawTime := lottery.NextDrawTime(cadence, r.cfg.Rules, at)
	r.announce(ctx, FormatReminder(cadence, drawTime, owners))
}

func (r *Reminder) announce(ctx context.Context, text string) {
	err := r.cfg.Announcer.Announce(ctx, text)
	metrics.RecordNotification(err)
	if err != nil {
		r.log.Error("reminder: failed to announce", "error", err)
	}
}
