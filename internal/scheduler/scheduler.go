// Package scheduler runs the periodic jobs: membership expiry reminders,
// price-lock sweeping and, when a spot source is configured, price polling.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/goldnet/ledger-engine/internal/model"
	"github.com/goldnet/ledger-engine/internal/notify"
	"github.com/goldnet/ledger-engine/internal/price"
)

// ReminderDays are the days-before-expiry on which a renewal warning goes out.
var ReminderDays = []int{14, 7, 3}

// MemberLister reads members for the expiry check.
type MemberLister interface {
	ListMembers(ctx context.Context) ([]model.Member, error)
}

// Sweeper drops expired price locks.
type Sweeper interface {
	Sweep() int
}

// Schedule holds the cron expressions (with seconds). An empty SpotCron or
// SweepCron disables that job.
type Schedule struct {
	ReminderCron string
	SpotCron     string
	SweepCron    string
}

// Scheduler manages all cron jobs.
type Scheduler struct {
	cron     *cron.Cron
	members  MemberLister
	notifier notify.Sink
	oracle   *price.Oracle
	spot     price.SpotSource
	locks    Sweeper
	ctx      context.Context
	now      func() time.Time
}

// New creates a scheduler. oracle, spot and locks may be nil; the jobs that
// need them are then not registered.
func New(ctx context.Context, members MemberLister, notifier notify.Sink, oracle *price.Oracle, spot price.SpotSource, locks Sweeper) *Scheduler {
	return &Scheduler{
		cron:     cron.New(cron.WithSeconds()),
		members:  members,
		notifier: notifier,
		oracle:   oracle,
		spot:     spot,
		locks:    locks,
		ctx:      ctx,
		now:      time.Now,
	}
}

// RegisterAll adds every job that has both a schedule and its dependencies.
func (s *Scheduler) RegisterAll(sch Schedule) error {
	if _, err := s.cron.AddFunc(sch.ReminderCron, func() {
		if _, err := s.CheckMemberships(s.ctx); err != nil {
			slog.Error("membership check failed", "err", err)
		}
	}); err != nil {
		return fmt.Errorf("register reminder job: %w", err)
	}
	if sch.SpotCron != "" && s.spot != nil && s.oracle != nil {
		if _, err := s.cron.AddFunc(sch.SpotCron, func() {
			if err := s.PollSpot(s.ctx); err != nil {
				slog.Error("spot poll failed", "err", err)
			}
		}); err != nil {
			return fmt.Errorf("register spot job: %w", err)
		}
	}
	if sch.SweepCron != "" && s.locks != nil {
		if _, err := s.cron.AddFunc(sch.SweepCron, func() {
			if n := s.locks.Sweep(); n > 0 {
				slog.Debug("price locks swept", "count", n)
			}
		}); err != nil {
			return fmt.Errorf("register sweep job: %w", err)
		}
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("scheduler started", "jobs", len(s.cron.Entries()))
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	slog.Info("scheduler stopped")
}

// CheckMemberships sends renewal reminders to active members whose
// membership ends in one of ReminderDays, and an expiry notice on the day
// it lapses and the day after. It returns how many notices were sent.
func (s *Scheduler) CheckMemberships(ctx context.Context) (int, error) {
	members, err := s.members.ListMembers(ctx)
	if err != nil {
		return 0, err
	}
	now := s.now()
	sent := 0
	for _, m := range members {
		if !m.Active || m.MembershipExpiry == nil {
			continue
		}
		days := daysUntil(now, *m.MembershipExpiry)
		var n *model.Notification
		switch {
		case isReminderDay(days):
			n = &model.Notification{
				MemberID: m.ID,
				Title:    "Annual Fee Reminder",
				Body: fmt.Sprintf("Your membership expires in %d days (%s). Please renew to keep your account active.",
					days, m.MembershipExpiry.Format("2006-01-02")),
				Category: model.CategoryWarning,
			}
		case days == 0 || days == -1:
			n = &model.Notification{
				MemberID: m.ID,
				Title:    "Membership Expired",
				Body:     "Your account is suspended until the annual fee is paid. Please contact an admin to reactivate it.",
				Category: model.CategoryError,
			}
		}
		if n == nil || s.notifier == nil {
			continue
		}
		if err := s.notifier.Notify(ctx, *n); err != nil {
			slog.Warn("reminder failed", "member", m.ID, "err", err)
			continue
		}
		sent++
	}
	slog.Info("membership check complete", "members", len(members), "sent", sent)
	return sent, nil
}

// daysUntil rounds up to whole days, so anything still ahead today counts
// as at least one day.
func daysUntil(now, t time.Time) int {
	return int(math.Ceil(t.Sub(now).Hours() / 24))
}

func isReminderDay(days int) bool {
	for _, d := range ReminderDays {
		if d == days {
			return true
		}
	}
	return false
}

// PollSpot fetches a spot price and publishes a new quote.
func (s *Scheduler) PollSpot(ctx context.Context) error {
	if s.spot == nil || s.oracle == nil {
		return nil
	}
	spot, err := s.spot.Spot(ctx)
	if err != nil {
		return fmt.Errorf("fetch spot: %w", err)
	}
	q, err := s.oracle.UpdateFromSpot(ctx, spot)
	if err != nil {
		return err
	}
	slog.Info("gold price updated", "spot", q.Spot.String(), "sell", q.Sell.String(), "buy", q.Buy.String())
	return nil
}
