package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/goldnet/ledger-engine/internal/apperr"
	"github.com/goldnet/ledger-engine/internal/model"
	"github.com/goldnet/ledger-engine/internal/store"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newStoreWithMember(t *testing.T) (*store.MemoryStore, string) {
	t.Helper()
	s := store.NewMemoryStore()
	m := &model.Member{MemberCode: "GN0001", FullName: "Aminah", Active: true}
	if err := s.CreateMember(context.Background(), m); err != nil {
		t.Fatalf("create member: %v", err)
	}
	return s, m.ID
}

func TestCreateMember_CreatesZeroWallet(t *testing.T) {
	s, id := newStoreWithMember(t)
	w, err := s.GetWallet(context.Background(), id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !w.Credit.IsZero() || !w.GoldGrams.IsZero() {
		t.Errorf("expected zero wallet, got %+v", w)
	}
}

func TestCreateMember_UnknownSponsor(t *testing.T) {
	s := store.NewMemoryStore()
	ghost := "nobody"
	err := s.CreateMember(context.Background(), &model.Member{MemberCode: "X", SponsorID: &ghost})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestInTx_RollbackRestoresEverything(t *testing.T) {
	s, id := newStoreWithMember(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.InTx(ctx, func(tx store.Tx) error {
		w, err := tx.LockWallet(ctx, id)
		if err != nil {
			return err
		}
		if err := store.PostWallet(ctx, tx, w, &model.LedgerEntry{
			Stream: model.StreamCredit, Account: model.AccountCredit, Amount: d("100"),
		}); err != nil {
			return err
		}
		if err := tx.SaveWallet(ctx, w); err != nil {
			return err
		}
		stock, _ := tx.LockStock(ctx)
		if err := store.PostStock(ctx, tx, &stock, &model.LedgerEntry{Stream: model.StreamStock, Amount: d("50")}); err != nil {
			return err
		}
		if err := tx.AddPersonalSales(ctx, id, d("1.5")); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	w, _ := s.GetWallet(ctx, id)
	if !w.Credit.IsZero() {
		t.Errorf("credit should be rolled back, got %s", w.Credit)
	}
	stock, _ := s.GetStock(ctx)
	if !stock.Grams.IsZero() {
		t.Errorf("stock should be rolled back, got %s", stock.Grams)
	}
	m, _ := s.GetMember(ctx, id)
	if !m.PersonalSalesMonth.IsZero() {
		t.Errorf("personal sales should be rolled back, got %s", m.PersonalSalesMonth)
	}
	entries, _ := s.ListEntries(ctx, model.EntryFilter{})
	if len(entries) != 0 {
		t.Errorf("journal should be empty, got %d entries", len(entries))
	}
}

func TestAppendEntry_SeqStrictlyIncreases(t *testing.T) {
	s, id := newStoreWithMember(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := s.InTx(ctx, func(tx store.Tx) error {
			w, _ := tx.LockWallet(ctx, id)
			if err := store.PostWallet(ctx, tx, w, &model.LedgerEntry{
				Stream: model.StreamCredit, Account: model.AccountCredit, Amount: d("10"),
			}); err != nil {
				return err
			}
			return tx.SaveWallet(ctx, w)
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	entries, _ := s.ListEntries(ctx, model.EntryFilter{MemberID: id})
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].Seq <= entries[i-1].Seq {
			t.Errorf("seq not increasing: %d then %d", entries[i-1].Seq, entries[i].Seq)
		}
	}
	if !entries[2].BalanceAfter.Equal(d("30")) {
		t.Errorf("expected balance after 30, got %s", entries[2].BalanceAfter)
	}
	sum, _ := s.SumEntries(ctx, model.EntryFilter{MemberID: id, Account: model.AccountCredit})
	if !sum.Equal(d("30")) {
		t.Errorf("expected sum 30, got %s", sum)
	}
}

func TestPostWallet_RejectsNegative(t *testing.T) {
	s, id := newStoreWithMember(t)
	ctx := context.Background()

	err := s.InTx(ctx, func(tx store.Tx) error {
		w, _ := tx.LockWallet(ctx, id)
		return store.PostWallet(ctx, tx, w, &model.LedgerEntry{
			Stream: model.StreamAdjustment, Account: model.AccountCredit, Amount: d("-5"),
		})
	})
	if !errors.Is(err, apperr.ErrInsufficientBalance) {
		t.Errorf("expected insufficient balance, got %v", err)
	}
}

func TestSalesByMember_HalfOpenRange(t *testing.T) {
	s, id := newStoreWithMember(t)
	ctx := context.Background()
	jan := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	feb := jan.AddDate(0, 1, 0)

	err := s.InTx(ctx, func(tx store.Tx) error {
		for _, at := range []time.Time{jan, jan.Add(time.Hour), feb} {
			if err := tx.AppendEntry(ctx, &model.LedgerEntry{
				Stream: model.StreamSales, Account: model.AccountNone, MemberID: id,
				GrossRM: d("100"), CreatedAt: at,
			}); err != nil {
				return err
			}
		}
		sales, err := tx.SalesByMember(ctx, jan, feb)
		if err != nil {
			return err
		}
		if !sales[id].Equal(d("200")) {
			t.Errorf("expected 200 in January, got %s", sales[id])
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestResetPersonalSales(t *testing.T) {
	s, id := newStoreWithMember(t)
	ctx := context.Background()

	err := s.InTx(ctx, func(tx store.Tx) error {
		if err := tx.AddPersonalSales(ctx, id, d("2")); err != nil {
			return err
		}
		n, err := tx.ResetPersonalSales(ctx, model.PeriodMonthly)
		if n != 1 {
			t.Errorf("expected 1 member reset, got %d", n)
		}
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	m, _ := s.GetMember(ctx, id)
	if !m.PersonalSalesMonth.IsZero() || !m.PersonalSalesYear.Equal(d("2")) {
		t.Errorf("monthly reset should leave yearly: month=%s year=%s", m.PersonalSalesMonth, m.PersonalSalesYear)
	}
}

func TestLatestQuote_NotFoundBeforeFirst(t *testing.T) {
	s := store.NewMemoryStore()
	if _, err := s.LatestQuote(context.Background()); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}
