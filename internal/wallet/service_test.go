package wallet_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goldnet/ledger-engine/internal/apperr"
	"github.com/goldnet/ledger-engine/internal/audit"
	"github.com/goldnet/ledger-engine/internal/config"
	"github.com/goldnet/ledger-engine/internal/model"
	"github.com/goldnet/ledger-engine/internal/notify"
	"github.com/goldnet/ledger-engine/internal/store"
	tu "github.com/goldnet/ledger-engine/internal/testutil"
	"github.com/goldnet/ledger-engine/internal/wallet"
)

var d = tu.D

func setup(t *testing.T) (*wallet.Service, *store.MemoryStore, *notify.Memory) {
	t.Helper()
	st := store.NewMemoryStore()
	tu.NewMember(t, st, "admin", tu.WithRole(model.RoleAdmin))
	tu.NewMember(t, st, "m1")
	inbox := &notify.Memory{}
	return wallet.New(st, config.NewSettings(nil, nil), audit.NewTrail(st), inbox), st, inbox
}

func TestParseDestination(t *testing.T) {
	cases := map[string]wallet.Destination{
		"":              wallet.DestCredit,
		"e_credit":      wallet.DestCredit,
		"ANNUAL_FEE":    wallet.DestAnnualFee,
		" special_fee ": wallet.DestSpecialFee,
	}
	for in, want := range cases {
		got, err := wallet.ParseDestination(in)
		if err != nil || got != want {
			t.Errorf("ParseDestination(%q) = %s, %v; want %s", in, got, err, want)
		}
	}
	if _, err := wallet.ParseDestination("SHOP"); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error for unknown destination, got %v", err)
	}
}

func TestApproveTopUp_RoutesByDestination(t *testing.T) {
	cases := []struct {
		name      string
		requested wallet.Destination
		override  *wallet.Destination
		check     func(t *testing.T, st *store.MemoryStore)
	}{
		{
			name:      "credit",
			requested: wallet.DestCredit,
			check: func(t *testing.T, st *store.MemoryStore) {
				w, _ := st.GetWallet(context.Background(), "m1")
				if !w.Credit.Equal(d("95")) {
					t.Errorf("expected credit 95, got %s", w.Credit)
				}
			},
		},
		{
			name:      "special fee to reserve",
			requested: wallet.DestSpecialFee,
			check: func(t *testing.T, st *store.MemoryStore) {
				bal, _ := st.ReserveBalance(context.Background())
				if !bal.Equal(d("95")) {
					t.Errorf("expected reserve 95, got %s", bal)
				}
			},
		},
		{
			name:      "override to annual fee",
			requested: wallet.DestCredit,
			override:  ptr(wallet.DestAnnualFee),
			check: func(t *testing.T, st *store.MemoryStore) {
				ctx := context.Background()
				w, _ := st.GetWallet(ctx, "m1")
				if !w.Credit.IsZero() {
					t.Errorf("override should not credit the wallet, got %s", w.Credit)
				}
				fees, _ := st.ListEntries(ctx, model.EntryFilter{Stream: model.StreamFee, MemberID: "m1"})
				if len(fees) != 1 || !fees[0].Amount.Equal(d("95")) || fees[0].Account != model.AccountNone {
					t.Errorf("expected one fee entry of 95, got %+v", fees)
				}
				m, _ := st.GetMember(ctx, "m1")
				if m.MembershipExpiry.Before(time.Now().AddDate(1, 11, 0)) {
					t.Errorf("membership not extended a year past its current expiry: %s", m.MembershipExpiry)
				}
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, st, inbox := setup(t)
			ctx := context.Background()
			req, err := svc.RequestTopUp(ctx, "m1", d("100"), "https://proof/1.jpg", tc.requested)
			if err != nil {
				t.Fatal(err)
			}

			got, err := svc.ApproveTopUp(ctx, "admin", req.ID, d("95"), tc.override)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Status != model.TopUpApproved || got.HandledBy != "admin" || !got.Amount.Equal(d("95")) {
				t.Errorf("unexpected request after approval: %+v", got)
			}
			tc.check(t, st)

			stored, _ := st.GetTopUp(ctx, req.ID)
			if stored.Status != model.TopUpApproved {
				t.Errorf("approval not persisted: %+v", stored)
			}
			if len(inbox.ForMember("m1")) == 0 {
				t.Errorf("expected a notification")
			}
		})
	}
}

func ptr[T any](v T) *T { return &v }

func TestApproveTopUp_AlreadyProcessed(t *testing.T) {
	svc, st, _ := setup(t)
	ctx := context.Background()
	req, _ := svc.RequestTopUp(ctx, "m1", d("50"), "", "")

	if _, err := svc.ApproveTopUp(ctx, "admin", req.ID, d("50"), nil); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.ApproveTopUp(ctx, "admin", req.ID, d("50"), nil); !errors.Is(err, apperr.ErrAlreadyProcessed) {
		t.Errorf("second approval: expected already processed, got %v", err)
	}
	if _, err := svc.RejectTopUp(ctx, "admin", req.ID, "late"); !errors.Is(err, apperr.ErrAlreadyProcessed) {
		t.Errorf("reject after approve: expected already processed, got %v", err)
	}
	w, _ := st.GetWallet(ctx, "m1")
	if !w.Credit.Equal(d("50")) {
		t.Errorf("credit applied more than once: %s", w.Credit)
	}
}

func TestRejectTopUp(t *testing.T) {
	svc, st, inbox := setup(t)
	ctx := context.Background()
	req, _ := svc.RequestTopUp(ctx, "m1", d("50"), "", wallet.DestCredit)

	if _, err := svc.RejectTopUp(ctx, "admin", req.ID, ""); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected reason to be required, got %v", err)
	}
	got, err := svc.RejectTopUp(ctx, "admin", req.ID, "blurry receipt")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.TopUpRejected || got.Reason != "blurry receipt" {
		t.Errorf("unexpected request: %+v", got)
	}
	pending, _ := svc.PendingTopUps(ctx)
	if len(pending) != 0 {
		t.Errorf("rejected request still pending")
	}
	entries, _ := st.ListEntries(ctx, model.EntryFilter{MemberID: "m1"})
	if len(entries) != 0 {
		t.Errorf("rejection moved money: %+v", entries)
	}
	if n := inbox.ForMember("m1"); len(n) != 1 || n[0].Category != model.CategoryError {
		t.Errorf("expected one error notification, got %+v", n)
	}
}

func TestAdminOperations_RequireAdminActor(t *testing.T) {
	svc, _, _ := setup(t)
	ctx := context.Background()
	req, _ := svc.RequestTopUp(ctx, "m1", d("50"), "", "")

	for _, actor := range []string{"", "m1", "ghost"} {
		_, err := svc.ApproveTopUp(ctx, actor, req.ID, d("50"), nil)
		if err == nil {
			t.Errorf("actor %q: expected rejection", actor)
		}
	}
	if _, err := svc.CreditRebate(ctx, "m1", "m1", d("5"), "self"); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("expected unauthorized, got %v", err)
	}
}

func TestRequestTopUp_Validation(t *testing.T) {
	svc, _, _ := setup(t)
	ctx := context.Background()
	if _, err := svc.RequestTopUp(ctx, "m1", d("0"), "", ""); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("zero amount: got %v", err)
	}
	if _, err := svc.RequestTopUp(ctx, "ghost", d("10"), "", ""); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown member: got %v", err)
	}
	if _, err := svc.RequestTopUp(ctx, "m1", d("10"), "", "GIFT"); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("unknown destination: got %v", err)
	}
}

func TestCreditRebateAndAdjust(t *testing.T) {
	svc, st, _ := setup(t)
	ctx := context.Background()

	if _, err := svc.CreditRebate(ctx, "admin", "m1", d("12.5"), "promo"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Adjust(ctx, "admin", "m1", model.AccountRebate, d("-2.5"), "correction"); err != nil {
		t.Fatal(err)
	}
	w, _ := st.GetWallet(ctx, "m1")
	if !w.Rebate.Equal(d("10")) {
		t.Errorf("expected rebate 10, got %s", w.Rebate)
	}

	_, err := svc.Adjust(ctx, "admin", "m1", model.AccountRebate, d("-11"), "too much")
	var se *apperr.ShortfallError
	if !errors.As(err, &se) || !se.Shortfall().Equal(d("1")) {
		t.Errorf("expected shortfall 1, got %v", err)
	}
	if _, err := svc.Adjust(ctx, "admin", "m1", model.AccountGold, d("1"), "gift"); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("gold adjustment should be rejected, got %v", err)
	}

	sum, _ := st.SumEntries(ctx, model.EntryFilter{MemberID: "m1", Account: model.AccountRebate})
	if !sum.Equal(d("10")) {
		t.Errorf("journal %s does not reconcile with rebate 10", sum)
	}
}

func TestAdjustStock_KeepsHoldingsCovered(t *testing.T) {
	svc, st, _ := setup(t)
	ctx := context.Background()

	if _, err := svc.AdjustStock(ctx, "admin", d("10"), "PO-1"); err != nil {
		t.Fatal(err)
	}
	tu.Credit(t, st, "m1", model.AccountGold, d("4"))

	_, err := svc.AdjustStock(ctx, "admin", d("-7"), "vault audit")
	var se *apperr.ShortfallError
	if !errors.Is(err, apperr.ErrInsufficientStock) || !errors.As(err, &se) || !se.Shortfall().Equal(d("1")) {
		t.Fatalf("expected stock shortfall 1, got %v", err)
	}
	e, err := svc.AdjustStock(ctx, "admin", d("-6"), "vault audit")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !e.BalanceAfter.Equal(d("4")) {
		t.Errorf("expected stock 4, got %s", e.BalanceAfter)
	}
}

func TestProcessPayout(t *testing.T) {
	for _, action := range []wallet.PayoutAction{wallet.PayoutPay, wallet.PayoutForfeit} {
		t.Run(string(action), func(t *testing.T) {
			svc, st, _ := setup(t)
			ctx := context.Background()
			tu.Credit(t, st, "m1", model.AccountBonus, d("80"))

			pending, _ := svc.PendingPayouts(ctx)
			if len(pending) != 1 || pending[0].MemberID != "m1" {
				t.Fatalf("unexpected pending payouts: %+v", pending)
			}

			amount, err := svc.ProcessPayout(ctx, "admin", "m1", action)
			if err != nil {
				t.Fatal(err)
			}
			if !amount.Equal(d("80")) {
				t.Errorf("expected 80 moved, got %s", amount)
			}
			w, _ := st.GetWallet(ctx, "m1")
			if !w.Bonus.IsZero() {
				t.Errorf("bonus not emptied: %s", w.Bonus)
			}
			reserve, _ := st.ReserveBalance(ctx)
			want := d("0")
			if action == wallet.PayoutForfeit {
				want = d("80")
			}
			if !reserve.Equal(want) {
				t.Errorf("reserve: want %s, got %s", want, reserve)
			}

			if _, err := svc.ProcessPayout(ctx, "admin", "m1", action); !errors.Is(err, apperr.ErrValidation) {
				t.Errorf("empty bonus: expected validation error, got %v", err)
			}
		})
	}
}

func TestRenewMembership(t *testing.T) {
	svc, st, _ := setup(t)
	ctx := context.Background()
	expired := time.Now().UTC().AddDate(0, -2, 0)
	tu.NewMember(t, st, "lapsed", tu.WithExpiry(&expired))
	tu.NewMember(t, st, "never", tu.WithExpiry(nil))

	for _, id := range []string{"lapsed", "never"} {
		before := time.Now().UTC()
		expiry, err := svc.RenewMembership(ctx, "admin", id)
		if err != nil {
			t.Fatalf("%s: %v", id, err)
		}
		if expiry.Before(before.AddDate(1, 0, 0)) || expiry.After(time.Now().UTC().AddDate(1, 0, 0)) {
			t.Errorf("%s: expiry should be one year from now, got %s", id, expiry)
		}
		m, _ := st.GetMember(ctx, id)
		if !m.MembershipActive(time.Now()) {
			t.Errorf("%s: membership should be active after renewal", id)
		}
	}

	m1, _ := st.GetMember(ctx, "m1")
	current := *m1.MembershipExpiry
	expiry, err := svc.RenewMembership(ctx, "admin", "m1")
	if err != nil {
		t.Fatal(err)
	}
	if !expiry.Equal(current.AddDate(1, 0, 0)) {
		t.Errorf("active membership should extend from its expiry: %s -> %s", current, expiry)
	}

	fees, _ := st.ListEntries(ctx, model.EntryFilter{Stream: model.StreamFee})
	if len(fees) != 3 || !fees[0].Amount.Equal(d("36.5")) {
		t.Errorf("expected three fee entries of 36.50, got %+v", fees)
	}
}
