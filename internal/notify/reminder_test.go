package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/lottolabs/sollotto/internal/lottery"
	"github.com/lottolabs/sollotto/internal/testutil"
	"github.com/lottolabs/sollotto/internal/wallet"
)

type captureAnnouncer struct {
	mu       sync.Mutex
	messages []string
	onSend   func()
}

func (c *captureAnnouncer) Announce(_ context.Context, text string) error {
	c.mu.Lock()
	c.messages = append(c.messages, text)
	c.mu.Unlock()
	if c.onSend != nil {
		c.onSend()
	}
	return nil
}

func (c *captureAnnouncer) sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.messages...)
}

type fakeSubscribers struct {
	byKind map[wallet.NotificationFrequency][]string
}

func (f *fakeSubscribers) Subscribers(_ context.Context, kind wallet.NotificationFrequency) ([]string, error) {
	return f.byKind[kind], nil
}

func allSubscribers() *fakeSubscribers {
	return &fakeSubscribers{byKind: map[wallet.NotificationFrequency][]string{
		wallet.NotifyDaily:  {"alice"},
		wallet.NotifyWeekly: {"bob"},
	}}
}

func TestSollotto_Notify_Reminder_NextReminderTime(t *testing.T) {
	t.Parallel()

	r, err := NewReminder(ReminderConfig{
		Logger:      testutil.NewLogger(),
		Announcer:   &captureAnnouncer{},
		Subscribers: allSubscribers(),
	})
	require.NoError(t, err)

	morning := time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC)
	require.Equal(t, time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC), r.nextReminderTime(morning))

	afternoon := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	require.Equal(t, time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC), r.nextReminderTime(afternoon))
}

func TestSollotto_Notify_Reminder_WeekdaySends(t *testing.T) {
	t.Parallel()

	// 2026-03-10 09:00 UTC is a Tuesday: only the daily reminder goes out.
	announcer := &captureAnnouncer{}
	r, err := NewReminder(ReminderConfig{
		Logger:      testutil.NewLogger(),
		Announcer:   announcer,
		Subscribers: allSubscribers(),
	})
	require.NoError(t, err)

	r.send(context.Background(), time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	messages := announcer.sent()
	require.Len(t, messages, 1)
	require.Contains(t, messages[0], "daily draw")
	require.Contains(t, messages[0], "`alice`", "daily subscribers are mentioned")
	require.NotContains(t, messages[0], "bob", "weekly-only subscribers are not")
}

func TestSollotto_Notify_Reminder_SundayAddsWeekly(t *testing.T) {
	t.Parallel()

	announcer := &captureAnnouncer{}
	r, err := NewReminder(ReminderConfig{
		Logger:      testutil.NewLogger(),
		Announcer:   announcer,
		Subscribers: allSubscribers(),
	})
	require.NoError(t, err)

	r.send(context.Background(), time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC))
	messages := announcer.sent()
	require.Len(t, messages, 2)
	require.Contains(t, messages[0], "daily draw")
	require.Contains(t, messages[1], "weekly draw")
	require.Contains(t, messages[1], "`bob`")
}

func TestSollotto_Notify_Reminder_SkipsKindsWithoutSubscribers(t *testing.T) {
	t.Parallel()

	announcer := &captureAnnouncer{}
	r, err := NewReminder(ReminderConfig{
		Logger:      testutil.NewLogger(),
		Announcer:   announcer,
		Subscribers: &fakeSubscribers{},
	})
	require.NoError(t, err)

	// Sunday would normally send both kinds; with nobody opted in, neither
	// reaches the channel.
	r.send(context.Background(), time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC))
	require.Empty(t, announcer.sent())

	r.send(context.Background(), time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	require.Empty(t, announcer.sent())
}

func TestSollotto_Notify_Reminder_FiresOnSchedule(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(start)

	ctx, cancel := context.WithCancel(t.Context())
	announcer := &captureAnnouncer{onSend: cancel}

	r, err := NewReminder(ReminderConfig{
		Logger:      testutil.NewLogger(),
		Announcer:   announcer,
		Subscribers: allSubscribers(),
		Clock:       clock,
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	clock.BlockUntil(1)
	clock.Advance(2 * time.Hour)

	require.ErrorIs(t, <-done, context.Canceled)
	require.NotEmpty(t, announcer.sent())
}

func TestSollotto_Notify_SlackSink_Validate(t *testing.T) {
	t.Parallel()

	_, err := NewSlackSink(SlackSinkConfig{Logger: testutil.NewLogger()})
	require.Error(t, err, "channel is required")

	_, err = NewSlackSink(SlackSinkConfig{Logger: testutil.NewLogger(), Channel: "#draws"})
	require.Error(t, err, "token or client is required")
}

func TestSollotto_Notify_LogSink(t *testing.T) {
	t.Parallel()

	sink := NewLogSink(testutil.NewLogger())
	require.NoError(t, sink.Publish(context.Background(), lottery.DrawResult{Cadence: lottery.CadenceHourly}))
	require.NoError(t, sink.Announce(context.Background(), "hello"))
}
