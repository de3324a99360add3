package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/goldnet/ledger-engine/internal/apperr"
	"github.com/goldnet/ledger-engine/internal/model"
)

// closingLockKey is the advisory lock separating closing runs (exclusive)
// from trades (shared).
const closingLockKey int64 = 0x676f6c64

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	// No-op once committed.
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateMember(ctx context.Context, m *model.Member) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.Role == "" {
		m.Role = model.RoleMember
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now()
	}
	return s.InTx(ctx, func(t Tx) error {
		q := t.(*pgTx).tx
		if m.SponsorID != nil {
			if _, err := getMember(ctx, q, *m.SponsorID); err != nil {
				if errors.Is(err, apperr.ErrNotFound) {
					return apperr.NotFound("sponsor", *m.SponsorID)
				}
				return err
			}
		}
		_, err := q.Exec(ctx,
			`INSERT INTO members (id, member_code, full_name, role, active, sponsor_id,
			                      personal_sales_month, personal_sales_year, membership_expiry, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9, $10)`,
			m.ID, m.MemberCode, m.FullName, string(m.Role), m.Active, m.SponsorID,
			m.PersonalSalesMonth.String(), m.PersonalSalesYear.String(), m.MembershipExpiry, m.CreatedAt,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return apperr.Invalid("member %s already exists", m.MemberCode)
			}
			return fmt.Errorf("insert member: %w", err)
		}
		_, err = q.Exec(ctx,
			`INSERT INTO wallets (member_id, updated_at) VALUES ($1, $2)`, m.ID, m.CreatedAt)
		return err
	})
}

func (s *PostgresStore) GetMember(ctx context.Context, id string) (*model.Member, error) {
	return getMember(ctx, s.pool, id)
}

func (s *PostgresStore) ListMembers(ctx context.Context) ([]model.Member, error) {
	return listMembers(ctx, s.pool)
}

func (s *PostgresStore) GetWallet(ctx context.Context, memberID string) (*model.Wallet, error) {
	return getWallet(ctx, s.pool, memberID, "")
}

func (s *PostgresStore) GetStock(ctx context.Context) (model.StockPosition, error) {
	return getStock(ctx, s.pool, "")
}

func (s *PostgresStore) ReserveBalance(ctx context.Context) (decimal.Decimal, error) {
	return getReserve(ctx, s.pool, "")
}

func (s *PostgresStore) ListEntries(ctx context.Context, f model.EntryFilter) ([]model.LedgerEntry, error) {
	where, args := entryWhere(f)
	rows, err := s.pool.Query(ctx,
		`SELECT `+entryCols+` FROM ledger_entries`+where+` ORDER BY seq`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanLedgerEntries(rows)
}

func (s *PostgresStore) SumEntries(ctx context.Context, f model.EntryFilter) (decimal.Decimal, error) {
	where, args := entryWhere(f)
	var sum string
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0)::TEXT FROM ledger_entries`+where, args...).Scan(&sum)
	if err != nil {
		return decimal.Zero, err
	}
	return dec(sum), nil
}

func (s *PostgresStore) ListCommissions(ctx context.Context, f model.CommissionFilter) ([]model.CommissionRecord, error) {
	where, args := commissionWhere(f)
	rows, err := s.pool.Query(ctx,
		`SELECT id, sponsor_id, source_member_id, trade_ref, period, rule, amount::TEXT, status, note, created_at
		 FROM commission_records`+where+` ORDER BY created_at`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.CommissionRecord
	for rows.Next() {
		var r model.CommissionRecord
		var amount string
		if err := rows.Scan(&r.ID, &r.SponsorID, &r.SourceMemberID, &r.TradeRef, &r.Period,
			&r.Rule, &amount, &r.Status, &r.Note, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Amount = dec(amount)
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *PostgresStore) InsertQuote(ctx context.Context, q *model.PriceQuote) error {
	if q.ID == "" {
		q.ID = uuid.New().String()
	}
	if q.Timestamp.IsZero() {
		q.Timestamp = now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO price_quotes (id, spot, buy, sell, buy916, sell916, buy_spread_pct, sell_spread_pct, timestamp)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9)`,
		q.ID, q.Spot.String(), q.Buy.String(), q.Sell.String(), q.Buy916.String(), q.Sell916.String(),
		q.BuySpreadPct.String(), q.SellSpreadPct.String(), q.Timestamp,
	)
	return err
}

func (s *PostgresStore) LatestQuote(ctx context.Context) (*model.PriceQuote, error) {
	var q model.PriceQuote
	var spot, buy, sell, buy916, sell916, buySpread, sellSpread string

	err := s.pool.QueryRow(ctx,
		`SELECT id, spot::TEXT, buy::TEXT, sell::TEXT, buy916::TEXT, sell916::TEXT,
		        buy_spread_pct::TEXT, sell_spread_pct::TEXT, timestamp
		 FROM price_quotes ORDER BY timestamp DESC LIMIT 1`).
		Scan(&q.ID, &spot, &buy, &sell, &buy916, &sell916, &buySpread, &sellSpread, &q.Timestamp)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("quote", "latest")
	}
	if err != nil {
		return nil, fmt.Errorf("latest quote: %w", err)
	}

	q.Spot, q.Buy, q.Sell = dec(spot), dec(buy), dec(sell)
	q.Buy916, q.Sell916 = dec(buy916), dec(sell916)
	q.BuySpreadPct, q.SellSpreadPct = dec(buySpread), dec(sellSpread)
	return &q, nil
}

func (s *PostgresStore) LoadSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveSetting(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO settings (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	return err
}

func (s *PostgresStore) CreateTopUp(ctx context.Context, r *model.TopUpRequest) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Status == "" {
		r.Status = model.TopUpPending
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO topup_requests (id, member_id, amount, destination, proof_url, status, created_at)
		 VALUES ($1, $2, $3::NUMERIC, $4, $5, $6, $7)`,
		r.ID, r.MemberID, r.Amount.String(), r.Destination, r.ProofURL, string(r.Status), r.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return apperr.NotFound("member", r.MemberID)
	}
	return err
}

func (s *PostgresStore) GetTopUp(ctx context.Context, id string) (*model.TopUpRequest, error) {
	return getTopUp(ctx, s.pool, id, "")
}

func (s *PostgresStore) ListTopUps(ctx context.Context, status model.TopUpStatus) ([]model.TopUpRequest, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+topUpCols+` FROM topup_requests
		 WHERE $1 = '' OR status = $1 ORDER BY created_at`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TopUpRequest
	for rows.Next() {
		r, err := scanTopUp(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) InsertAudit(ctx context.Context, e *model.AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_log (id, actor_id, action, details, target_id, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.ActorID, e.Action, e.Details, e.TargetID, e.Timestamp)
	return err
}

func (s *PostgresStore) ListAudit(ctx context.Context, limit int) ([]model.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, actor_id, action, details, target_id, timestamp
		 FROM audit_log ORDER BY timestamp DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.Details, &e.TargetID, &e.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- Tx ---

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockClosing(ctx context.Context, exclusive bool) error {
	fn := "pg_advisory_xact_lock_shared"
	if exclusive {
		fn = "pg_advisory_xact_lock"
	}
	_, err := t.tx.Exec(ctx, `SELECT `+fn+`($1)`, closingLockKey)
	return err
}

func (t *pgTx) GetMember(ctx context.Context, id string) (*model.Member, error) {
	return getMember(ctx, t.tx, id)
}

func (t *pgTx) ListMembers(ctx context.Context) ([]model.Member, error) {
	return listMembers(ctx, t.tx)
}

func (t *pgTx) AddPersonalSales(ctx context.Context, memberID string, grams decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE members
		 SET personal_sales_month = personal_sales_month + $2::NUMERIC,
		     personal_sales_year  = personal_sales_year  + $2::NUMERIC
		 WHERE id = $1`, memberID, grams.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("member", memberID)
	}
	return nil
}

func (t *pgTx) ResetPersonalSales(ctx context.Context, pt model.PeriodType) (int, error) {
	col := "personal_sales_month"
	if pt == model.PeriodYearly {
		col = "personal_sales_year"
	}
	tag, err := t.tx.Exec(ctx, `UPDATE members SET `+col+` = 0`)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (t *pgTx) SetMembershipExpiry(ctx context.Context, memberID string, expiry time.Time) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE members SET membership_expiry = $2 WHERE id = $1`, memberID, expiry.UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("member", memberID)
	}
	return nil
}

func (t *pgTx) LockStock(ctx context.Context) (model.StockPosition, error) {
	return getStock(ctx, t.tx, " FOR UPDATE")
}

func (t *pgTx) SaveStock(ctx context.Context, grams decimal.Decimal) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE stock_position SET grams = $1::NUMERIC, updated_at = NOW() WHERE id = 1`, grams.String())
	return err
}

func (t *pgTx) LockReserve(ctx context.Context) (decimal.Decimal, error) {
	return getReserve(ctx, t.tx, " FOR UPDATE")
}

func (t *pgTx) SaveReserve(ctx context.Context, balance decimal.Decimal) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE reserve_fund SET balance = $1::NUMERIC, updated_at = NOW() WHERE id = 1`, balance.String())
	return err
}

func (t *pgTx) LockWallet(ctx context.Context, memberID string) (*model.Wallet, error) {
	return getWallet(ctx, t.tx, memberID, " FOR UPDATE")
}

func (t *pgTx) SaveWallet(ctx context.Context, w *model.Wallet) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE wallets
		 SET credit = $2::NUMERIC, rebate = $3::NUMERIC, bonus = $4::NUMERIC,
		     gold_grams = $5::NUMERIC, updated_at = NOW()
		 WHERE member_id = $1`,
		w.MemberID, w.Credit.String(), w.Rebate.String(), w.Bonus.String(), w.GoldGrams.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("wallet", w.MemberID)
	}
	return nil
}

func (t *pgTx) AppendEntry(ctx context.Context, e *model.LedgerEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now()
	}
	return t.tx.QueryRow(ctx,
		`INSERT INTO ledger_entries (id, stream, account, member_id, counterparty_id,
		        amount, balance_after, grams, price_per_gram, gross_rm, cost_rm,
		        ref, period, note, actor_id, created_at)
		 VALUES ($1, $2, $3, $4, $5,
		        $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11::NUMERIC,
		        $12, $13, $14, $15, $16)
		 RETURNING seq`,
		e.ID, string(e.Stream), string(e.Account), e.MemberID, e.CounterpartyID,
		e.Amount.String(), e.BalanceAfter.String(), e.Grams.String(), e.PricePerGram.String(),
		e.GrossRM.String(), e.CostRM.String(),
		e.Ref, e.Period, e.Note, e.ActorID, e.CreatedAt,
	).Scan(&e.Seq)
}

func (t *pgTx) SalesByMember(ctx context.Context, from, to time.Time) (map[string]decimal.Decimal, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT member_id, COALESCE(SUM(gross_rm), 0)::TEXT
		 FROM ledger_entries
		 WHERE stream = $1 AND created_at >= $2 AND created_at < $3
		 GROUP BY member_id`, string(model.StreamSales), from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make(map[string]decimal.Decimal)
	for rows.Next() {
		var id, sum string
		if err := rows.Scan(&id, &sum); err != nil {
			return nil, err
		}
		sales[id] = dec(sum)
	}
	return sales, rows.Err()
}

func (t *pgTx) InsertCommission(ctx context.Context, r *model.CommissionRecord) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now()
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO commission_records (id, sponsor_id, source_member_id, trade_ref, period, rule, amount, status, note, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8, $9, $10)`,
		r.ID, r.SponsorID, r.SourceMemberID, r.TradeRef, r.Period, string(r.Rule),
		r.Amount.String(), string(r.Status), r.Note, r.CreatedAt)
	return err
}

func (t *pgTx) SumCommissions(ctx context.Context, f model.CommissionFilter) (decimal.Decimal, error) {
	where, args := commissionWhere(f)
	var sum string
	err := t.tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0)::TEXT FROM commission_records`+where, args...).Scan(&sum)
	if err != nil {
		return decimal.Zero, err
	}
	return dec(sum), nil
}

func (t *pgTx) LockTopUp(ctx context.Context, id string) (*model.TopUpRequest, error) {
	return getTopUp(ctx, t.tx, id, " FOR UPDATE")
}

func (t *pgTx) SaveTopUp(ctx context.Context, r *model.TopUpRequest) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE topup_requests
		 SET amount = $2::NUMERIC, destination = $3, status = $4, handled_by = $5, handled_at = $6, reason = $7
		 WHERE id = $1`,
		r.ID, r.Amount.String(), r.Destination, string(r.Status), r.HandledBy, r.HandledAt, r.Reason)
	return err
}

// --- shared queries ---

const memberCols = `id, member_code, full_name, role, active, sponsor_id,
	personal_sales_month::TEXT, personal_sales_year::TEXT, membership_expiry, created_at`

func scanMember(row pgx.Row) (*model.Member, error) {
	var m model.Member
	var month, year string
	if err := row.Scan(&m.ID, &m.MemberCode, &m.FullName, &m.Role, &m.Active, &m.SponsorID,
		&month, &year, &m.MembershipExpiry, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.PersonalSalesMonth, m.PersonalSalesYear = dec(month), dec(year)
	return &m, nil
}

func getMember(ctx context.Context, q querier, id string) (*model.Member, error) {
	m, err := scanMember(q.QueryRow(ctx, `SELECT `+memberCols+` FROM members WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("member", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get member %s: %w", id, err)
	}
	return m, nil
}

func listMembers(ctx context.Context, q querier) ([]model.Member, error) {
	rows, err := q.Query(ctx, `SELECT `+memberCols+` FROM members ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []model.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, *m)
	}
	return members, rows.Err()
}

func getWallet(ctx context.Context, q querier, memberID, suffix string) (*model.Wallet, error) {
	var w model.Wallet
	var credit, rebate, bonus, gold string
	err := q.QueryRow(ctx,
		`SELECT member_id, credit::TEXT, rebate::TEXT, bonus::TEXT, gold_grams::TEXT, updated_at
		 FROM wallets WHERE member_id = $1`+suffix, memberID).
		Scan(&w.MemberID, &credit, &rebate, &bonus, &gold, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("wallet", memberID)
	}
	if err != nil {
		return nil, fmt.Errorf("get wallet %s: %w", memberID, err)
	}
	w.Credit, w.Rebate, w.Bonus, w.GoldGrams = dec(credit), dec(rebate), dec(bonus), dec(gold)
	return &w, nil
}

func getStock(ctx context.Context, q querier, suffix string) (model.StockPosition, error) {
	var p model.StockPosition
	var grams string
	err := q.QueryRow(ctx,
		`SELECT grams::TEXT, updated_at FROM stock_position WHERE id = 1`+suffix).
		Scan(&grams, &p.UpdatedAt)
	if err != nil {
		return p, fmt.Errorf("get stock: %w", err)
	}
	p.Grams = dec(grams)
	return p, nil
}

func getReserve(ctx context.Context, q querier, suffix string) (decimal.Decimal, error) {
	var bal string
	if err := q.QueryRow(ctx, `SELECT balance::TEXT FROM reserve_fund WHERE id = 1`+suffix).Scan(&bal); err != nil {
		return decimal.Zero, fmt.Errorf("get reserve: %w", err)
	}
	return dec(bal), nil
}

const topUpCols = `id, member_id, amount::TEXT, destination, proof_url, status,
	handled_by, handled_at, reason, created_at`

func scanTopUp(row pgx.Row) (*model.TopUpRequest, error) {
	var r model.TopUpRequest
	var amount string
	if err := row.Scan(&r.ID, &r.MemberID, &amount, &r.Destination, &r.ProofURL, &r.Status,
		&r.HandledBy, &r.HandledAt, &r.Reason, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.Amount = dec(amount)
	return &r, nil
}

func getTopUp(ctx context.Context, q querier, id, suffix string) (*model.TopUpRequest, error) {
	r, err := scanTopUp(q.QueryRow(ctx, `SELECT `+topUpCols+` FROM topup_requests WHERE id = $1`+suffix, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("top-up", id)
	}
	return r, err
}

const entryCols = `seq, id, stream, account, member_id, counterparty_id,
	amount::TEXT, balance_after::TEXT, grams::TEXT, price_per_gram::TEXT, gross_rm::TEXT, cost_rm::TEXT,
	ref, period, note, actor_id, created_at`

func scanLedgerEntries(rows pgx.Rows) ([]model.LedgerEntry, error) {
	var entries []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var amount, after, grams, price, gross, cost string

		if err := rows.Scan(&e.Seq, &e.ID, &e.Stream, &e.Account, &e.MemberID, &e.CounterpartyID,
			&amount, &after, &grams, &price, &gross, &cost,
			&e.Ref, &e.Period, &e.Note, &e.ActorID, &e.CreatedAt); err != nil {
			return nil, err
		}

		e.Amount, e.BalanceAfter, e.Grams = dec(amount), dec(after), dec(grams)
		e.PricePerGram, e.GrossRM, e.CostRM = dec(price), dec(gross), dec(cost)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type whereBuilder struct {
	conds []string
	args  []any
}

func (b *whereBuilder) add(cond string, v any) {
	b.args = append(b.args, v)
	b.conds = append(b.conds, fmt.Sprintf(cond, len(b.args)))
}

func (b *whereBuilder) sql() string {
	if len(b.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(b.conds, " AND ")
}

func entryWhere(f model.EntryFilter) (string, []any) {
	var b whereBuilder
	if f.Stream != "" {
		b.add("stream = $%d", string(f.Stream))
	}
	if f.Account != "" {
		b.add("account = $%d", string(f.Account))
	}
	if f.MemberID != "" {
		b.add("member_id = $%d", f.MemberID)
	}
	if f.Ref != "" {
		b.add("ref = $%d", f.Ref)
	}
	if !f.From.IsZero() {
		b.add("created_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		b.add("created_at < $%d", f.To)
	}
	return b.sql(), b.args
}

func commissionWhere(f model.CommissionFilter) (string, []any) {
	var b whereBuilder
	if f.SponsorID != "" {
		b.add("sponsor_id = $%d", f.SponsorID)
	}
	if f.SourceMemberID != "" {
		b.add("source_member_id = $%d", f.SourceMemberID)
	}
	if f.Rule != "" {
		b.add("rule = $%d", string(f.Rule))
	}
	if f.Status != "" {
		b.add("status = $%d", string(f.Status))
	}
	if f.Period != "" {
		b.add("period = $%d", f.Period)
	}
	return b.sql(), b.args
}

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}
