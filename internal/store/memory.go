package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/goldnet/ledger-engine/internal/apperr"
	"github.com/goldnet/ledger-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// InTx holds the write lock for the whole unit, so units are serialized
// and see each other's effects in commit order. Writes inside a unit record
// an undo step; a failed unit replays them in reverse.
type MemoryStore struct {
	mu          sync.RWMutex
	members     map[string]*model.Member
	wallets     map[string]*model.Wallet
	stock       model.StockPosition
	reserve     decimal.Decimal
	entries     []model.LedgerEntry
	seq         int64
	commissions []model.CommissionRecord
	quotes      []model.PriceQuote
	settings    map[string]string
	topups      map[string]*model.TopUpRequest
	audit       []model.AuditEntry
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		members:  make(map[string]*model.Member),
		wallets:  make(map[string]*model.Wallet),
		settings: make(map[string]string),
		topups:   make(map[string]*model.TopUpRequest),
	}
}

func now() time.Time { return time.Now().UTC() }

func (s *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s}
	defer func() {
		if p := recover(); p != nil {
			tx.rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (s *MemoryStore) CreateMember(_ context.Context, m *model.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if _, ok := s.members[m.ID]; ok {
		return apperr.Invalid("member %s already exists", m.ID)
	}
	for _, existing := range s.members {
		if m.MemberCode != "" && existing.MemberCode == m.MemberCode {
			return apperr.Invalid("member code %s already taken", m.MemberCode)
		}
	}
	if m.SponsorID != nil {
		if _, ok := s.members[*m.SponsorID]; !ok {
			return apperr.NotFound("sponsor", *m.SponsorID)
		}
	}
	if m.Role == "" {
		m.Role = model.RoleMember
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now()
	}

	// Store a copy to avoid external mutation.
	cp := *m
	s.members[m.ID] = &cp
	s.wallets[m.ID] = &model.Wallet{MemberID: m.ID, UpdatedAt: m.CreatedAt}
	return nil
}

func (s *MemoryStore) GetMember(_ context.Context, id string) (*model.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.member(id)
}

func (s *MemoryStore) ListMembers(_ context.Context) ([]model.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listMembers(), nil
}

func (s *MemoryStore) GetWallet(_ context.Context, memberID string) (*model.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.wallet(memberID)
}

func (s *MemoryStore) GetStock(_ context.Context) (model.StockPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stock, nil
}

func (s *MemoryStore) ReserveBalance(_ context.Context) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reserve, nil
}

func (s *MemoryStore) ListEntries(_ context.Context, f model.EntryFilter) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.LedgerEntry
	for i := range s.entries {
		if f.Match(&s.entries[i]) {
			result = append(result, s.entries[i])
		}
	}
	return result, nil
}

func (s *MemoryStore) SumEntries(_ context.Context, f model.EntryFilter) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum := decimal.Zero
	for i := range s.entries {
		if f.Match(&s.entries[i]) {
			sum = sum.Add(s.entries[i].Amount)
		}
	}
	return sum, nil
}

func (s *MemoryStore) ListCommissions(_ context.Context, f model.CommissionFilter) ([]model.CommissionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.CommissionRecord
	for i := range s.commissions {
		if f.Match(&s.commissions[i]) {
			result = append(result, s.commissions[i])
		}
	}
	return result, nil
}

func (s *MemoryStore) InsertQuote(_ context.Context, q *model.PriceQuote) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if q.ID == "" {
		q.ID = uuid.New().String()
	}
	if q.Timestamp.IsZero() {
		q.Timestamp = now()
	}
	s.quotes = append(s.quotes, *q)
	return nil
}

func (s *MemoryStore) LatestQuote(_ context.Context) (*model.PriceQuote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.quotes) == 0 {
		return nil, apperr.NotFound("quote", "latest")
	}
	q := s.quotes[len(s.quotes)-1]
	return &q, nil
}

func (s *MemoryStore) LoadSettings(_ context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string, len(s.settings))
	for k, v := range s.settings {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) SaveSetting(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = value
	return nil
}

func (s *MemoryStore) CreateTopUp(_ context.Context, r *model.TopUpRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.members[r.MemberID]; !ok {
		return apperr.NotFound("member", r.MemberID)
	}
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Status == "" {
		r.Status = model.TopUpPending
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now()
	}
	cp := *r
	s.topups[r.ID] = &cp
	return nil
}

func (s *MemoryStore) GetTopUp(_ context.Context, id string) (*model.TopUpRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.topUp(id)
}

func (s *MemoryStore) ListTopUps(_ context.Context, status model.TopUpStatus) ([]model.TopUpRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.TopUpRequest
	for _, r := range s.topups {
		if status == "" || r.Status == status {
			result = append(result, *r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *MemoryStore) InsertAudit(_ context.Context, e *model.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = now()
	}
	s.audit = append(s.audit, *e)
	return nil
}

// ListAudit returns the newest entries first.
func (s *MemoryStore) ListAudit(_ context.Context, limit int) ([]model.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.AuditEntry
	for i := len(s.audit) - 1; i >= 0; i-- {
		if limit > 0 && len(result) == limit {
			break
		}
		result = append(result, s.audit[i])
	}
	return result, nil
}

// --- unlocked helpers, shared with memTx ---

func (s *MemoryStore) member(id string) (*model.Member, error) {
	m, ok := s.members[id]
	if !ok {
		return nil, apperr.NotFound("member", id)
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) listMembers() []model.Member {
	members := make([]model.Member, 0, len(s.members))
	for _, m := range s.members {
		members = append(members, *m)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })
	return members
}

func (s *MemoryStore) wallet(memberID string) (*model.Wallet, error) {
	w, ok := s.wallets[memberID]
	if !ok {
		return nil, apperr.NotFound("wallet", memberID)
	}
	cp := *w
	return &cp, nil
}

func (s *MemoryStore) topUp(id string) (*model.TopUpRequest, error) {
	r, ok := s.topups[id]
	if !ok {
		return nil, apperr.NotFound("top-up", id)
	}
	cp := *r
	return &cp, nil
}

// memTx runs under the store's write lock, held by InTx.
type memTx struct {
	s    *MemoryStore
	undo []func()
}

func (tx *memTx) onRollback(f func()) { tx.undo = append(tx.undo, f) }

func (tx *memTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

// LockClosing is a no-op: the unit already holds the store exclusively.
func (tx *memTx) LockClosing(ctx context.Context, _ bool) error { return ctx.Err() }

func (tx *memTx) GetMember(_ context.Context, id string) (*model.Member, error) {
	return tx.s.member(id)
}

func (tx *memTx) ListMembers(_ context.Context) ([]model.Member, error) {
	return tx.s.listMembers(), nil
}

func (tx *memTx) AddPersonalSales(_ context.Context, memberID string, grams decimal.Decimal) error {
	m, ok := tx.s.members[memberID]
	if !ok {
		return apperr.NotFound("member", memberID)
	}
	month, year := m.PersonalSalesMonth, m.PersonalSalesYear
	tx.onRollback(func() { m.PersonalSalesMonth, m.PersonalSalesYear = month, year })

	m.PersonalSalesMonth = month.Add(grams)
	m.PersonalSalesYear = year.Add(grams)
	return nil
}

func (tx *memTx) ResetPersonalSales(_ context.Context, pt model.PeriodType) (int, error) {
	for _, m := range tx.s.members {
		m := m
		if pt == model.PeriodYearly {
			prev := m.PersonalSalesYear
			tx.onRollback(func() { m.PersonalSalesYear = prev })
			m.PersonalSalesYear = decimal.Zero
		} else {
			prev := m.PersonalSalesMonth
			tx.onRollback(func() { m.PersonalSalesMonth = prev })
			m.PersonalSalesMonth = decimal.Zero
		}
	}
	return len(tx.s.members), nil
}

func (tx *memTx) SetMembershipExpiry(_ context.Context, memberID string, expiry time.Time) error {
	m, ok := tx.s.members[memberID]
	if !ok {
		return apperr.NotFound("member", memberID)
	}
	prev := m.MembershipExpiry
	tx.onRollback(func() { m.MembershipExpiry = prev })

	t := expiry.UTC()
	m.MembershipExpiry = &t
	return nil
}

func (tx *memTx) LockStock(_ context.Context) (model.StockPosition, error) {
	return tx.s.stock, nil
}

func (tx *memTx) SaveStock(_ context.Context, grams decimal.Decimal) error {
	prev := tx.s.stock
	tx.onRollback(func() { tx.s.stock = prev })
	tx.s.stock = model.StockPosition{Grams: grams, UpdatedAt: now()}
	return nil
}

func (tx *memTx) LockReserve(_ context.Context) (decimal.Decimal, error) {
	return tx.s.reserve, nil
}

func (tx *memTx) SaveReserve(_ context.Context, balance decimal.Decimal) error {
	prev := tx.s.reserve
	tx.onRollback(func() { tx.s.reserve = prev })
	tx.s.reserve = balance
	return nil
}

func (tx *memTx) LockWallet(_ context.Context, memberID string) (*model.Wallet, error) {
	return tx.s.wallet(memberID)
}

func (tx *memTx) SaveWallet(_ context.Context, w *model.Wallet) error {
	cur, ok := tx.s.wallets[w.MemberID]
	if !ok {
		return apperr.NotFound("wallet", w.MemberID)
	}
	prev := *cur
	tx.onRollback(func() { *cur = prev })

	*cur = *w
	cur.UpdatedAt = now()
	return nil
}

func (tx *memTx) AppendEntry(_ context.Context, e *model.LedgerEntry) error {
	n, seq := len(tx.s.entries), tx.s.seq
	tx.onRollback(func() {
		tx.s.entries = tx.s.entries[:n]
		tx.s.seq = seq
	})

	tx.s.seq++
	e.Seq = tx.s.seq
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now()
	}
	tx.s.entries = append(tx.s.entries, *e)
	return nil
}

func (tx *memTx) SalesByMember(_ context.Context, from, to time.Time) (map[string]decimal.Decimal, error) {
	f := model.EntryFilter{Stream: model.StreamSales, From: from, To: to}
	sales := make(map[string]decimal.Decimal)
	for i := range tx.s.entries {
		e := &tx.s.entries[i]
		if f.Match(e) {
			sales[e.MemberID] = sales[e.MemberID].Add(e.GrossRM)
		}
	}
	return sales, nil
}

func (tx *memTx) InsertCommission(_ context.Context, r *model.CommissionRecord) error {
	n := len(tx.s.commissions)
	tx.onRollback(func() { tx.s.commissions = tx.s.commissions[:n] })

	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now()
	}
	tx.s.commissions = append(tx.s.commissions, *r)
	return nil
}

func (tx *memTx) SumCommissions(_ context.Context, f model.CommissionFilter) (decimal.Decimal, error) {
	sum := decimal.Zero
	for i := range tx.s.commissions {
		if f.Match(&tx.s.commissions[i]) {
			sum = sum.Add(tx.s.commissions[i].Amount)
		}
	}
	return sum, nil
}

func (tx *memTx) LockTopUp(_ context.Context, id string) (*model.TopUpRequest, error) {
	return tx.s.topUp(id)
}

func (tx *memTx) SaveTopUp(_ context.Context, r *model.TopUpRequest) error {
	cur, ok := tx.s.topups[r.ID]
	if !ok {
		return apperr.NotFound("top-up", r.ID)
	}
	prev := *cur
	tx.onRollback(func() { *cur = prev })
	*cur = *r
	return nil
}
