package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/goldnet/ledger-engine/internal/apperr"
	"github.com/goldnet/ledger-engine/internal/model"
	"github.com/goldnet/ledger-engine/internal/store"
	tu "github.com/goldnet/ledger-engine/internal/testutil"
)

func newPostgres(t *testing.T) *store.PostgresStore {
	t.Helper()
	tu.RequireIntegration(t)
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, tu.PostgresURL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	st := store.NewPostgresStore(pool)
	if err := st.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return st
}

func TestPostgres_PostingAndRollback(t *testing.T) {
	st := newPostgres(t)
	ctx := context.Background()
	code := "IT-" + uuid.NewString()[:8]
	tu.NewMember(t, st, code)
	tu.Credit(t, st, code, model.AccountCredit, d("100"))

	err := st.InTx(ctx, func(tx store.Tx) error {
		w, err := tx.LockWallet(ctx, code)
		if err != nil {
			return err
		}
		if err := store.PostWallet(ctx, tx, w, &model.LedgerEntry{
			Stream: model.StreamAdjustment, Account: model.AccountCredit, Amount: d("-30"), Ref: code,
		}); err != nil {
			return err
		}
		if err := tx.SaveWallet(ctx, w); err != nil {
			return err
		}
		// Second posting overdraws; the first must roll back with it.
		return store.PostWallet(ctx, tx, w, &model.LedgerEntry{
			Stream: model.StreamAdjustment, Account: model.AccountCredit, Amount: d("-80"), Ref: code,
		})
	})
	var se *apperr.ShortfallError
	if !errors.As(err, &se) || !se.Shortfall().Equal(d("10")) {
		t.Fatalf("expected shortfall of 10, got %v", err)
	}

	w, err := st.GetWallet(ctx, code)
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	if !w.Credit.Equal(d("100")) {
		t.Errorf("credit = %s, want 100 after rollback", w.Credit)
	}
	entries, err := st.ListEntries(ctx, model.EntryFilter{MemberID: code})
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the seed entry, got %d", len(entries))
	}
	sum, err := st.SumEntries(ctx, model.EntryFilter{MemberID: code, Account: model.AccountCredit})
	if err != nil {
		t.Fatalf("sum entries: %v", err)
	}
	if !sum.Equal(w.Credit) {
		t.Errorf("journal sum %s != balance %s", sum, w.Credit)
	}
}

func TestPostgres_StockDelta(t *testing.T) {
	st := newPostgres(t)
	ctx := context.Background()
	before, err := st.GetStock(ctx)
	if err != nil {
		t.Fatalf("get stock: %v", err)
	}
	tu.AddStock(t, st, d("2.5"))
	after, err := st.GetStock(ctx)
	if err != nil {
		t.Fatalf("get stock: %v", err)
	}
	if !after.Grams.Sub(before.Grams).Equal(d("2.5")) {
		t.Errorf("stock moved %s -> %s, want +2.5", before.Grams, after.Grams)
	}
}

func TestPostgres_UnknownSponsor(t *testing.T) {
	st := newPostgres(t)
	missing := "nobody-" + uuid.NewString()
	m := &model.Member{MemberCode: "IT-" + uuid.NewString()[:8], SponsorID: &missing, Active: true}
	err := st.CreateMember(context.Background(), m)
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
