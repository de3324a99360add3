package store

import (
	"context"
	"fmt"
)

// schema is idempotent; Migrate runs it on every start.
const schema = `
CREATE TABLE IF NOT EXISTS members (
	id                   TEXT PRIMARY KEY,
	member_code          TEXT NOT NULL UNIQUE,
	full_name            TEXT NOT NULL DEFAULT '',
	role                 TEXT NOT NULL DEFAULT 'MEMBER',
	active               BOOLEAN NOT NULL DEFAULT TRUE,
	sponsor_id           TEXT REFERENCES members(id),
	personal_sales_month NUMERIC NOT NULL DEFAULT 0,
	personal_sales_year  NUMERIC NOT NULL DEFAULT 0,
	membership_expiry    TIMESTAMPTZ,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_members_sponsor ON members (sponsor_id);

CREATE TABLE IF NOT EXISTS wallets (
	member_id  TEXT PRIMARY KEY REFERENCES members(id),
	credit     NUMERIC NOT NULL DEFAULT 0 CHECK (credit >= 0),
	rebate     NUMERIC NOT NULL DEFAULT 0 CHECK (rebate >= 0),
	bonus      NUMERIC NOT NULL DEFAULT 0 CHECK (bonus >= 0),
	gold_grams NUMERIC NOT NULL DEFAULT 0 CHECK (gold_grams >= 0),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS stock_position (
	id         SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
	grams      NUMERIC NOT NULL DEFAULT 0 CHECK (grams >= 0),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
INSERT INTO stock_position (id) VALUES (1) ON CONFLICT DO NOTHING;

CREATE TABLE IF NOT EXISTS reserve_fund (
	id         SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
	balance    NUMERIC NOT NULL DEFAULT 0 CHECK (balance >= 0),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
INSERT INTO reserve_fund (id) VALUES (1) ON CONFLICT DO NOTHING;

CREATE TABLE IF NOT EXISTS ledger_entries (
	seq             BIGSERIAL PRIMARY KEY,
	id              TEXT NOT NULL UNIQUE,
	stream          TEXT NOT NULL,
	account         TEXT NOT NULL,
	member_id       TEXT NOT NULL DEFAULT '',
	counterparty_id TEXT NOT NULL DEFAULT '',
	amount          NUMERIC NOT NULL,
	balance_after   NUMERIC NOT NULL DEFAULT 0,
	grams           NUMERIC NOT NULL DEFAULT 0,
	price_per_gram  NUMERIC NOT NULL DEFAULT 0,
	gross_rm        NUMERIC NOT NULL DEFAULT 0,
	cost_rm         NUMERIC NOT NULL DEFAULT 0,
	ref             TEXT NOT NULL DEFAULT '',
	period          TEXT NOT NULL DEFAULT '',
	note            TEXT NOT NULL DEFAULT '',
	actor_id        TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entries_member_account ON ledger_entries (member_id, account);
CREATE INDEX IF NOT EXISTS idx_entries_stream_time ON ledger_entries (stream, created_at);
CREATE INDEX IF NOT EXISTS idx_entries_ref ON ledger_entries (ref);

CREATE TABLE IF NOT EXISTS commission_records (
	id               TEXT PRIMARY KEY,
	sponsor_id       TEXT NOT NULL,
	source_member_id TEXT NOT NULL DEFAULT '',
	trade_ref        TEXT NOT NULL DEFAULT '',
	period           TEXT NOT NULL,
	rule             TEXT NOT NULL,
	amount           NUMERIC NOT NULL,
	status           TEXT NOT NULL,
	note             TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_commissions_pair ON commission_records (sponsor_id, source_member_id, rule);

CREATE TABLE IF NOT EXISTS price_quotes (
	id              TEXT PRIMARY KEY,
	spot            NUMERIC NOT NULL,
	buy             NUMERIC NOT NULL,
	sell            NUMERIC NOT NULL,
	buy916          NUMERIC NOT NULL,
	sell916         NUMERIC NOT NULL,
	buy_spread_pct  NUMERIC NOT NULL,
	sell_spread_pct NUMERIC NOT NULL,
	timestamp       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_quotes_time ON price_quotes (timestamp DESC);

CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS topup_requests (
	id          TEXT PRIMARY KEY,
	member_id   TEXT NOT NULL REFERENCES members(id),
	amount      NUMERIC NOT NULL,
	destination TEXT NOT NULL,
	proof_url   TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	handled_by  TEXT NOT NULL DEFAULT '',
	handled_at  TIMESTAMPTZ,
	reason      TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_log (
	id        TEXT PRIMARY KEY,
	actor_id  TEXT NOT NULL,
	action    TEXT NOT NULL,
	details   TEXT NOT NULL DEFAULT '',
	target_id TEXT NOT NULL DEFAULT '',
	timestamp TIMESTAMPTZ NOT NULL
);
`

// Migrate creates any missing tables and singleton rows.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
