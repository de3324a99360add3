package closing_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"pgregory.net/rapid"

	"github.com/goldnet/ledger-engine/internal/apperr"
	"github.com/goldnet/ledger-engine/internal/audit"
	"github.com/goldnet/ledger-engine/internal/closing"
	"github.com/goldnet/ledger-engine/internal/config"
	"github.com/goldnet/ledger-engine/internal/model"
	"github.com/goldnet/ledger-engine/internal/notify"
	"github.com/goldnet/ledger-engine/internal/store"
	tu "github.com/goldnet/ledger-engine/internal/testutil"
)

var d = tu.D

var march = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func newEngine(st store.Store) (*closing.Engine, *notify.Memory) {
	inbox := &notify.Memory{}
	return closing.New(st, config.NewSettings(nil, nil), audit.NewTrail(st), inbox), inbox
}

// seedTree builds r -> {a, b}, a -> c -> dd -> e.
func seedTree(t *testing.T, st store.Store) {
	t.Helper()
	r := tu.NewMember(t, st, "r")
	a := tu.NewMember(t, st, "a", tu.WithSponsor(r))
	tu.NewMember(t, st, "b", tu.WithSponsor(r))
	c := tu.NewMember(t, st, "c", tu.WithSponsor(a))
	dd := tu.NewMember(t, st, "dd", tu.WithSponsor(c))
	tu.NewMember(t, st, "e", tu.WithSponsor(dd))

	tu.RecordSale(t, st, "a", d("6000"), march)
	tu.RecordSale(t, st, "b", d("2000"), march)
	tu.RecordSale(t, st, "c", d("3000"), march)
	tu.RecordSale(t, st, "dd", d("1000"), march)
	tu.RecordSale(t, st, "e", d("50000"), march)
	tu.RecordSale(t, st, "b", d("100000"), march.AddDate(0, 1, 0)) // April, outside the period
}

func TestRunMonthly_TiersEligibilityAndDepthCap(t *testing.T) {
	st := store.NewMemoryStore()
	seedTree(t, st)
	tu.AddPersonalSales(t, st, "r", d("0.25"))
	tu.AddPersonalSales(t, st, "b", d("1"))
	engine, inbox := newEngine(st)
	ctx := context.Background()

	res, err := engine.RunMonthly(ctx, "2026-03", "admin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := map[string]struct {
		group, amount string
		status        model.CommissionStatus
	}{
		"r":  {"12000", "30", model.StatusQualified},    // e is four levels down
		"a":  {"54000", "270", model.StatusUnqualified}, // tier 2
		"c":  {"51000", "255", model.StatusUnqualified},
		"dd": {"50000", "250", model.StatusUnqualified},
	}
	if res.Processed != len(want) || len(res.Outcomes) != len(want) {
		t.Fatalf("expected %d outcomes, got %+v", len(want), res.Outcomes)
	}
	for _, o := range res.Outcomes {
		w, ok := want[o.MemberID]
		if !ok {
			t.Errorf("unexpected outcome for %s", o.MemberID)
			continue
		}
		if !o.GroupSales.Equal(d(w.group)) || !o.Amount.Equal(d(w.amount)) || o.Status != w.status {
			t.Errorf("%s: got group=%s amount=%s status=%s", o.MemberID, o.GroupSales, o.Amount, o.Status)
		}
	}
	if !res.TotalPaid.Equal(d("30")) || !res.TotalReserve.Equal(d("775")) {
		t.Errorf("unexpected totals paid=%s reserve=%s", res.TotalPaid, res.TotalReserve)
	}
	if res.ResetCount != 6 {
		t.Errorf("expected all 6 members reset, got %d", res.ResetCount)
	}

	w, _ := st.GetWallet(ctx, "r")
	if !w.Credit.Equal(d("30")) {
		t.Errorf("expected r credited 30, got %s", w.Credit)
	}
	bal, _ := st.ReserveBalance(ctx)
	if !bal.Equal(d("775")) {
		t.Errorf("expected reserve 775, got %s", bal)
	}

	members, _ := st.ListMembers(ctx)
	for _, m := range members {
		if !m.PersonalSalesMonth.IsZero() {
			t.Errorf("%s month accumulator not reset: %s", m.ID, m.PersonalSalesMonth)
		}
	}
	r, _ := st.GetMember(ctx, "r")
	if !r.PersonalSalesYear.Equal(d("0.25")) {
		t.Errorf("monthly closing must not touch the yearly accumulator, got %s", r.PersonalSalesYear)
	}

	recs, _ := st.ListCommissions(ctx, model.CommissionFilter{Rule: model.RuleMonthlyGroup, Period: "2026-03"})
	if len(recs) != 4 {
		t.Errorf("expected 4 bonus records, got %d", len(recs))
	}
	if n := inbox.ForMember("r"); len(n) != 1 {
		t.Errorf("expected a bonus notification for r, got %+v", n)
	}
}

func TestRunMonthly_SkipsAdminsAndInactiveButResetsThem(t *testing.T) {
	st := store.NewMemoryStore()
	admin := tu.NewMember(t, st, "admin", tu.WithRole(model.RoleAdmin))
	off := tu.NewMember(t, st, "off", tu.Inactive())
	tu.NewMember(t, st, "x", tu.WithSponsor(admin))
	tu.NewMember(t, st, "y", tu.WithSponsor(off))
	tu.RecordSale(t, st, "x", d("20000"), march)
	tu.RecordSale(t, st, "y", d("20000"), march)
	tu.AddPersonalSales(t, st, "off", d("5"))
	engine, _ := newEngine(st)

	res, err := engine.RunMonthly(context.Background(), "2026-03", "super")
	if err != nil {
		t.Fatal(err)
	}
	if res.Processed != 0 {
		t.Errorf("expected no outcomes, got %+v", res.Outcomes)
	}
	m, _ := st.GetMember(context.Background(), "off")
	if !m.PersonalSalesMonth.IsZero() {
		t.Errorf("reset must be global, got %s", m.PersonalSalesMonth)
	}
}

func TestRunMonthly_BelowLowestTierSkips(t *testing.T) {
	st := store.NewMemoryStore()
	r := tu.NewMember(t, st, "r")
	tu.NewMember(t, st, "a", tu.WithSponsor(r))
	tu.RecordSale(t, st, "a", d("9999.99"), march)
	engine, _ := newEngine(st)

	res, err := engine.RunMonthly(context.Background(), "2026-03", "admin")
	if err != nil {
		t.Fatal(err)
	}
	if res.Processed != 0 || !res.TotalReserve.IsZero() {
		t.Errorf("expected nothing processed, got %+v", res)
	}
}

func TestRunYearly_DefaultRateAndYearlyMinimum(t *testing.T) {
	st := store.NewMemoryStore()
	r := tu.NewMember(t, st, "r")
	tu.NewMember(t, st, "a", tu.WithSponsor(r))
	tu.RecordSale(t, st, "a", d("1000"), time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	tu.RecordSale(t, st, "a", d("500"), time.Date(2026, 11, 30, 0, 0, 0, 0, time.UTC))
	tu.RecordSale(t, st, "a", d("700"), time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC))
	tu.AddPersonalSales(t, st, "r", d("3"))
	engine, _ := newEngine(st)
	ctx := context.Background()

	res, err := engine.RunYearly(ctx, "2026-YEARLY", "admin")
	if err != nil {
		t.Fatal(err)
	}
	if res.Processed != 1 || !res.TotalPaid.Equal(d("15")) {
		t.Fatalf("expected r paid 1%% of 1500, got %+v", res)
	}
	recs, _ := st.ListCommissions(ctx, model.CommissionFilter{Rule: model.RuleYearlyGroup})
	if len(recs) != 1 || recs[0].Period != "2026-YEARLY" {
		t.Errorf("unexpected yearly records %+v", recs)
	}

	m, _ := st.GetMember(ctx, "r")
	if !m.PersonalSalesYear.IsZero() || !m.PersonalSalesMonth.Equal(d("3")) {
		t.Errorf("yearly closing should reset only the yearly accumulator, got %+v", m)
	}
}

func TestRun_Validation(t *testing.T) {
	engine, _ := newEngine(store.NewMemoryStore())
	ctx := context.Background()
	cases := []struct {
		name string
		run  func() error
	}{
		{"missing actor", func() error { _, err := engine.RunMonthly(ctx, "2026-03", ""); return err }},
		{"bad tag", func() error { _, err := engine.RunMonthly(ctx, "March", "admin"); return err }},
		{"yearly tag on monthly", func() error { _, err := engine.RunMonthly(ctx, "2026-YEARLY", "admin"); return err }},
		{"monthly tag on yearly", func() error { _, err := engine.RunYearly(ctx, "2026-03", "admin"); return err }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.run(); !errors.Is(err, apperr.ErrValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

type gatedStore struct {
	*store.MemoryStore
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	return g.MemoryStore.InTx(ctx, fn)
}

func TestRun_ConcurrentRunIsRejected(t *testing.T) {
	st := &gatedStore{
		MemoryStore: store.NewMemoryStore(),
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	engine, _ := newEngine(st)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := engine.RunMonthly(ctx, "2026-03", "admin")
		done <- err
	}()
	<-st.entered

	if _, err := engine.RunYearly(ctx, "2026-YEARLY", "admin"); !errors.Is(err, apperr.ErrClosingInProgress) {
		t.Errorf("expected closing in progress, got %v", err)
	}
	close(st.release)
	if err := <-done; err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if _, err := engine.RunMonthly(ctx, "2026-04", "admin"); err != nil {
		t.Errorf("run after completion should succeed, got %v", err)
	}
}

func TestGroupSales_DepthAndCycles(t *testing.T) {
	sales := map[string]decimal.Decimal{"a": d("1"), "b": d("10"), "c": d("100"), "e": d("1000")}
	chain := map[string][]string{"root": {"a"}, "a": {"b"}, "b": {"c"}, "c": {"e"}}

	for depth, want := range map[int]string{0: "0", 1: "1", 2: "11", 3: "111", 4: "1111"} {
		if got := closing.GroupSales("root", chain, sales, depth); !got.Equal(d(want)) {
			t.Errorf("depth %d: want %s, got %s", depth, want, got)
		}
	}

	cyclic := map[string][]string{"a": {"b"}, "b": {"a", "c"}}
	if got := closing.GroupSales("a", cyclic, sales, 10); !got.Equal(d("110")) {
		t.Errorf("cycle: want 110, got %s", got)
	}
}

func TestSelectTier(t *testing.T) {
	tiers := config.NewSettings(nil, nil).Tiers(model.PeriodMonthly)
	cases := map[string]string{"9999": "", "10000": "0.0025", "49999": "0.0025", "50000": "0.005", "250000": "0.01"}
	for group, rate := range cases {
		tier, ok := closing.SelectTier(tiers, d(group))
		if rate == "" {
			if ok {
				t.Errorf("%s: expected no tier, got %+v", group, tier)
			}
			continue
		}
		if !ok || !tier.Rate.Equal(d(rate)) {
			t.Errorf("%s: want rate %s, got %+v", group, rate, tier)
		}
	}
}

func naiveGroup(id string, children map[string][]string, sales map[string]decimal.Decimal, depth int) decimal.Decimal {
	if depth == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, c := range children[id] {
		sum = sum.Add(sales[c]).Add(naiveGroup(c, children, sales, depth-1))
	}
	return sum
}

// Every computed bonus lands either in a wallet or in the reserve, and
// group sales match a depth-limited recursive sum.
func TestProperty_ClosingConservesPotentialBonus(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		st := store.NewMemoryStore()
		ctx := context.Background()
		n := rapid.IntRange(2, 12).Draw(rt, "members")

		members := make([]*model.Member, n)
		children := map[string][]string{}
		sales := map[string]decimal.Decimal{}
		for i := 0; i < n; i++ {
			id := fmt.Sprintf("m%02d", i)
			var opts []tu.MemberOption
			if i > 0 {
				if parent := rapid.IntRange(-1, i-1).Draw(rt, "parent"); parent >= 0 {
					opts = append(opts, tu.WithSponsor(members[parent]))
					children[members[parent].ID] = append(children[members[parent].ID], id)
				}
			}
			members[i] = tu.NewMember(t, st, id, opts...)
			if amt := rapid.IntRange(0, 60000).Draw(rt, "sale"); amt > 0 {
				sales[id] = decimal.NewFromInt(int64(amt))
				tu.RecordSale(t, st, id, sales[id], march)
			}
			if rapid.Bool().Draw(rt, "qualified") {
				tu.AddPersonalSales(t, st, id, d("0.25"))
			}
		}

		engine, _ := newEngine(st)
		res, err := engine.RunMonthly(ctx, "2026-03", "admin")
		if err != nil {
			rt.Fatalf("run: %v", err)
		}

		sum := decimal.Zero
		for _, o := range res.Outcomes {
			sum = sum.Add(o.Amount)
			if want := naiveGroup(o.MemberID, children, sales, closing.GroupSalesDepth); !o.GroupSales.Equal(want) {
				rt.Fatalf("%s: group %s, want %s", o.MemberID, o.GroupSales, want)
			}
		}
		if !res.TotalPaid.Add(res.TotalReserve).Equal(sum) {
			rt.Fatalf("paid %s + reserve %s != potential %s", res.TotalPaid, res.TotalReserve, sum)
		}

		reserve, _ := st.ReserveBalance(ctx)
		if !reserve.Equal(res.TotalReserve) {
			rt.Fatalf("reserve %s != %s", reserve, res.TotalReserve)
		}
		credited, _ := st.SumEntries(ctx, model.EntryFilter{Stream: model.StreamBonus})
		if !credited.Equal(res.TotalPaid) {
			rt.Fatalf("bonus entries %s != paid %s", credited, res.TotalPaid)
		}
	})
}
