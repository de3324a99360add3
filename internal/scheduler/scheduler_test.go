package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/goldnet/ledger-engine/internal/config"
	"github.com/goldnet/ledger-engine/internal/model"
	"github.com/goldnet/ledger-engine/internal/notify"
	"github.com/goldnet/ledger-engine/internal/price"
	"github.com/goldnet/ledger-engine/internal/store"
	tu "github.com/goldnet/ledger-engine/internal/testutil"
)

func TestCheckMemberships(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	in := func(days int) *time.Time {
		at := now.AddDate(0, 0, days).Add(-time.Hour)
		return &at
	}

	st := store.NewMemoryStore()
	tu.NewMember(t, st, "d14", tu.WithExpiry(in(14)))
	tu.NewMember(t, st, "d7", tu.WithExpiry(in(7)))
	tu.NewMember(t, st, "d3", tu.WithExpiry(in(3)))
	tu.NewMember(t, st, "d5", tu.WithExpiry(in(5)))
	tu.NewMember(t, st, "today", tu.WithExpiry(in(0)))
	tu.NewMember(t, st, "yesterday", tu.WithExpiry(in(-1)))
	tu.NewMember(t, st, "long-gone", tu.WithExpiry(in(-30)))
	tu.NewMember(t, st, "never", tu.WithExpiry(nil))
	tu.NewMember(t, st, "disabled", tu.WithExpiry(in(7)), tu.Inactive())

	inbox := &notify.Memory{}
	s := New(context.Background(), st, inbox, nil, nil, nil)
	s.now = func() time.Time { return now }

	sent, err := s.CheckMemberships(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sent != 5 {
		t.Errorf("expected 5 notices, got %d: %+v", sent, inbox.Items())
	}

	want := map[string]string{
		"d14":       model.CategoryWarning,
		"d7":        model.CategoryWarning,
		"d3":        model.CategoryWarning,
		"today":     model.CategoryError,
		"yesterday": model.CategoryError,
	}
	for id, category := range want {
		got := inbox.ForMember(id)
		if len(got) != 1 || got[0].Category != category {
			t.Errorf("%s: expected one %s notice, got %+v", id, category, got)
		}
	}
	for _, id := range []string{"d5", "long-gone", "never", "disabled"} {
		if got := inbox.ForMember(id); len(got) != 0 {
			t.Errorf("%s: expected no notice, got %+v", id, got)
		}
	}
}

func TestDaysUntil(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		at   time.Time
		want int
	}{
		{now.Add(time.Minute), 1},
		{now.Add(24 * time.Hour), 1},
		{now.Add(24*time.Hour + time.Second), 2},
		{now, 0},
		{now.Add(-time.Hour), 0},
		{now.Add(-25 * time.Hour), -1},
	}
	for _, c := range cases {
		if got := daysUntil(now, c.at); got != c.want {
			t.Errorf("daysUntil(%s) = %d, want %d", c.at.Sub(now), got, c.want)
		}
	}
}

type fixedSpot struct {
	price decimal.Decimal
	err   error
}

func (f fixedSpot) Spot(context.Context) (decimal.Decimal, error) { return f.price, f.err }

func TestPollSpot(t *testing.T) {
	st := store.NewMemoryStore()
	oracle := price.NewOracle(st, config.NewSettings(nil, nil), price.NewMemoryLockStore(), nil)
	ctx := context.Background()

	s := New(ctx, st, nil, oracle, fixedSpot{price: tu.D("300")}, nil)
	if err := s.PollSpot(ctx); err != nil {
		t.Fatal(err)
	}
	q, err := oracle.Current()
	if err != nil {
		t.Fatal(err)
	}
	if !q.Sell.Equal(tu.D("324.9")) || !q.Buy.Equal(tu.D("285")) {
		t.Errorf("unexpected quote: sell %s buy %s", q.Sell, q.Buy)
	}

	boom := errors.New("feed down")
	s = New(ctx, st, nil, oracle, fixedSpot{err: boom}, nil)
	if err := s.PollSpot(ctx); !errors.Is(err, boom) {
		t.Errorf("expected feed error, got %v", err)
	}
	if again, _ := oracle.Current(); !again.Spot.Equal(q.Spot) {
		t.Errorf("failed poll replaced the quote")
	}
}

func TestRegisterAll(t *testing.T) {
	st := store.NewMemoryStore()
	oracle := price.NewOracle(st, config.NewSettings(nil, nil), price.NewMemoryLockStore(), nil)

	s := New(context.Background(), st, nil, oracle, fixedSpot{price: tu.D("1")}, price.NewMemoryLockStore())
	if err := s.RegisterAll(Schedule{ReminderCron: "0 0 9 * * *", SpotCron: "0 */5 * * * *", SweepCron: "*/30 * * * * *"}); err != nil {
		t.Fatal(err)
	}
	if n := len(s.cron.Entries()); n != 3 {
		t.Errorf("expected 3 jobs, got %d", n)
	}

	bare := New(context.Background(), st, nil, nil, nil, nil)
	if err := bare.RegisterAll(Schedule{ReminderCron: "0 0 9 * * *", SpotCron: "0 */5 * * * *"}); err != nil {
		t.Fatal(err)
	}
	if n := len(bare.cron.Entries()); n != 1 {
		t.Errorf("spot job registered without a source: %d jobs", n)
	}

	if err := bare.RegisterAll(Schedule{ReminderCron: "every day"}); err == nil {
		t.Error("expected an error for a malformed expression")
	}
}
