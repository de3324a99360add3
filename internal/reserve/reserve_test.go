package reserve_test

import (
	"context"
	"errors"
	"testing"

	"github.com/goldnet/ledger-engine/internal/apperr"
	"github.com/goldnet/ledger-engine/internal/audit"
	"github.com/goldnet/ledger-engine/internal/model"
	"github.com/goldnet/ledger-engine/internal/reserve"
	"github.com/goldnet/ledger-engine/internal/store"
	tu "github.com/goldnet/ledger-engine/internal/testutil"
)

func setup(t *testing.T) (*reserve.Fund, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	tu.NewMember(t, st, "super", tu.WithRole(model.RoleSuperAdmin))
	tu.NewMember(t, st, "admin", tu.WithRole(model.RoleAdmin))
	return reserve.New(st, audit.NewTrail(st)), st
}

func TestDepositThenWithdraw(t *testing.T) {
	fund, st := setup(t)
	ctx := context.Background()

	if _, err := fund.Deposit(ctx, tu.D("100"), "special fee", "admin"); err != nil {
		t.Fatal(err)
	}
	e, err := fund.Withdraw(ctx, tu.D("40"), "charity", "flood relief", "super")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !e.BalanceAfter.Equal(tu.D("60")) {
		t.Errorf("expected balance after 60, got %s", e.BalanceAfter)
	}

	bal, _ := fund.Balance(ctx)
	sum, _ := st.SumEntries(ctx, model.EntryFilter{Account: model.AccountReserve})
	if !bal.Equal(sum) {
		t.Errorf("reserve %s does not match journal %s", bal, sum)
	}

	moves, _ := fund.Movements(ctx, 0)
	if len(moves) != 2 || !moves[0].Amount.Equal(tu.D("-40")) {
		t.Errorf("expected newest-first movements, got %+v", moves)
	}
	if moves[0].ActorID != "super" || moves[0].Note != "flood relief" {
		t.Errorf("withdrawal should carry actor and purpose, got %+v", moves[0])
	}
}

func TestWithdraw_RequiresSuperAdmin(t *testing.T) {
	fund, _ := setup(t)
	ctx := context.Background()
	fund.Deposit(ctx, tu.D("100"), "seed", "admin")

	_, err := fund.Withdraw(ctx, tu.D("10"), "charity", "relief", "admin")
	if !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("expected unauthorized, got %v", err)
	}
	bal, _ := fund.Balance(ctx)
	if !bal.Equal(tu.D("100")) {
		t.Errorf("balance should be untouched, got %s", bal)
	}
}

func TestWithdraw_InsufficientFunds(t *testing.T) {
	fund, _ := setup(t)
	ctx := context.Background()
	fund.Deposit(ctx, tu.D("25"), "seed", "admin")

	_, err := fund.Withdraw(ctx, tu.D("30"), "charity", "relief", "super")
	if !errors.Is(err, apperr.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	var se *apperr.ShortfallError
	if !errors.As(err, &se) || !se.Shortfall().Equal(tu.D("5")) {
		t.Errorf("expected shortfall 5, got %v", err)
	}
}

func TestActorRequired(t *testing.T) {
	fund, _ := setup(t)
	ctx := context.Background()
	if _, err := fund.Deposit(ctx, tu.D("1"), "seed", ""); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("deposit without actor: expected validation error, got %v", err)
	}
	if _, err := fund.Withdraw(ctx, tu.D("1"), "x", "y", ""); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("withdraw without actor: expected validation error, got %v", err)
	}
}

func TestDeposit_RejectsNonPositive(t *testing.T) {
	fund, _ := setup(t)
	if _, err := fund.Deposit(context.Background(), tu.D("0"), "seed", "admin"); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}
