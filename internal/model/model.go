// Package model defines the core domain types shared across the ledger engine.
// All monetary values and gold weights use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role distinguishes ordinary members from administrators.
type Role string

const (
	RoleMember     Role = "MEMBER"
	RoleAdmin      Role = "ADMIN"
	RoleSuperAdmin Role = "SUPER_ADMIN"
)

// Member is a node in the sponsor forest. SponsorID is the parent pointer;
// a nil sponsor makes the member a root.
type Member struct {
	ID                 string          `json:"id" db:"id"`
	MemberCode         string          `json:"member_code" db:"member_code"`
	FullName           string          `json:"full_name" db:"full_name"`
	Role               Role            `json:"role" db:"role"`
	Active             bool            `json:"active" db:"active"`
	SponsorID          *string         `json:"sponsor_id,omitempty" db:"sponsor_id"`
	PersonalSalesMonth decimal.Decimal `json:"personal_sales_month" db:"personal_sales_month"` // grams
	PersonalSalesYear  decimal.Decimal `json:"personal_sales_year" db:"personal_sales_year"`   // grams
	MembershipExpiry   *time.Time      `json:"membership_expiry,omitempty" db:"membership_expiry"`
	CreatedAt          time.Time       `json:"created_at" db:"created_at"`
}

// MembershipActive reports whether the member may trade at the given instant.
// A member that never paid the annual fee (nil expiry) is not active.
func (m *Member) MembershipActive(now time.Time) bool {
	if !m.Active || m.MembershipExpiry == nil {
		return false
	}
	return m.MembershipExpiry.After(now)
}

// PersonalSales returns the accumulator matching the period type.
func (m *Member) PersonalSales(pt PeriodType) decimal.Decimal {
	if pt == PeriodYearly {
		return m.PersonalSalesYear
	}
	return m.PersonalSalesMonth
}

// Wallet holds a member's balances. Every field is non-negative.
type Wallet struct {
	MemberID  string          `json:"member_id" db:"member_id"`
	Credit    decimal.Decimal `json:"credit" db:"credit"`
	Rebate    decimal.Decimal `json:"rebate" db:"rebate"`
	Bonus     decimal.Decimal `json:"bonus" db:"bonus"`
	GoldGrams decimal.Decimal `json:"gold_grams" db:"gold_grams"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// Balance returns the wallet field backing an account.
func (w *Wallet) Balance(a Account) decimal.Decimal {
	switch a {
	case AccountCredit:
		return w.Credit
	case AccountRebate:
		return w.Rebate
	case AccountBonus:
		return w.Bonus
	case AccountGold:
		return w.GoldGrams
	}
	return decimal.Zero
}

// SetBalance overwrites the wallet field backing an account.
func (w *Wallet) SetBalance(a Account, v decimal.Decimal) {
	switch a {
	case AccountCredit:
		w.Credit = v
	case AccountRebate:
		w.Rebate = v
	case AccountBonus:
		w.Bonus = v
	case AccountGold:
		w.GoldGrams = v
	}
}

// StockPosition is the company's physical gold, a single shared row.
type StockPosition struct {
	Grams     decimal.Decimal `json:"grams" db:"grams"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// Stream names one of the typed journal streams.
type Stream string

const (
	StreamSales      Stream = "SALES"
	StreamPurchase   Stream = "PURCHASE"
	StreamHolding    Stream = "HOLDING"
	StreamStock      Stream = "STOCK"
	StreamCredit     Stream = "CREDIT"
	StreamRebate     Stream = "REBATE"
	StreamCommission Stream = "COMMISSION"
	StreamBonus      Stream = "BONUS"
	StreamFee        Stream = "FEE"
	StreamFund       Stream = "FUND"
	StreamAdjustment Stream = "ADJUSTMENT"
)

// Account names the balance an entry's Amount is a delta of.
type Account string

const (
	AccountCredit  Account = "CREDIT"
	AccountRebate  Account = "REBATE"
	AccountBonus   Account = "BONUS"
	AccountGold    Account = "GOLD"
	AccountStock   Account = "STOCK"
	AccountReserve Account = "RESERVE"
	AccountNone    Account = "NONE" // informational revenue, no balance behind it
)

// WalletAccounts lists the accounts that live on a member wallet.
var WalletAccounts = []Account{AccountCredit, AccountRebate, AccountBonus, AccountGold}

// LedgerEntry is an immutable journal record. Once appended it is never
// modified or deleted; Seq is assigned by the store and strictly increases.
type LedgerEntry struct {
	ID             string          `json:"id" db:"id"`
	Seq            int64           `json:"seq" db:"seq"`
	Stream         Stream          `json:"stream" db:"stream"`
	Account        Account         `json:"account" db:"account"`
	MemberID       string          `json:"member_id,omitempty" db:"member_id"`
	CounterpartyID string          `json:"counterparty_id,omitempty" db:"counterparty_id"`
	Amount         decimal.Decimal `json:"amount" db:"amount"` // signed delta of Account
	BalanceAfter   decimal.Decimal `json:"balance_after" db:"balance_after"`
	Grams          decimal.Decimal `json:"grams" db:"grams"`
	PricePerGram   decimal.Decimal `json:"price_per_gram" db:"price_per_gram"`
	GrossRM        decimal.Decimal `json:"gross_rm" db:"gross_rm"`
	CostRM         decimal.Decimal `json:"cost_rm" db:"cost_rm"`
	Ref            string          `json:"ref" db:"ref"`
	Period         string          `json:"period,omitempty" db:"period"`
	Note           string          `json:"note,omitempty" db:"note"`
	ActorID        string          `json:"actor_id,omitempty" db:"actor_id"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// EntryFilter selects journal entries. Zero-valued fields match everything.
type EntryFilter struct {
	Stream   Stream
	Account  Account
	MemberID string
	Ref      string
	From     time.Time // inclusive
	To       time.Time // exclusive
}

// Match reports whether e satisfies the filter.
func (f EntryFilter) Match(e *LedgerEntry) bool {
	if f.Stream != "" && e.Stream != f.Stream {
		return false
	}
	if f.Account != "" && e.Account != f.Account {
		return false
	}
	if f.MemberID != "" && e.MemberID != f.MemberID {
		return false
	}
	if f.Ref != "" && e.Ref != f.Ref {
		return false
	}
	if !f.From.IsZero() && e.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !e.CreatedAt.Before(f.To) {
		return false
	}
	return true
}

// PriceQuote is one persisted price snapshot. Buy is what the platform pays
// when a member sells; Sell is what a member pays when buying.
type PriceQuote struct {
	ID            string          `json:"id" db:"id"`
	Spot          decimal.Decimal `json:"spot" db:"spot"`
	Buy           decimal.Decimal `json:"buy" db:"buy"`
	Sell          decimal.Decimal `json:"sell" db:"sell"`
	Buy916        decimal.Decimal `json:"buy916" db:"buy916"`
	Sell916       decimal.Decimal `json:"sell916" db:"sell916"`
	BuySpreadPct  decimal.Decimal `json:"buy_spread_pct" db:"buy_spread_pct"`
	SellSpreadPct decimal.Decimal `json:"sell_spread_pct" db:"sell_spread_pct"`
	Timestamp     time.Time       `json:"timestamp" db:"timestamp"`
}

// MemberBuyPrice is the per-gram price charged on a member buy.
func (q *PriceQuote) MemberBuyPrice() decimal.Decimal { return q.Sell }

// MemberSellPrice is the per-gram price paid out on a member sell.
func (q *PriceQuote) MemberSellPrice() decimal.Decimal { return q.Buy }

// PriceLock pins a quote snapshot for one pending trade by MemberID until
// ExpiresAt.
type PriceLock struct {
	Token     string     `json:"lock_id"`
	MemberID  string     `json:"member_id"`
	Quote     PriceQuote `json:"price"`
	ExpiresAt time.Time  `json:"expires_at"`
}

// Side of a gold trade, from the member's point of view.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Receipt is returned to the caller after a trade commits.
type Receipt struct {
	TradeID      string          `json:"trade_id"`
	MemberID     string          `json:"member_id"`
	Side         Side            `json:"side"`
	Grams        decimal.Decimal `json:"grams"`
	PricePerGram decimal.Decimal `json:"price_per_gram"`
	Gross        decimal.Decimal `json:"gross"`
	Rebate       decimal.Decimal `json:"rebate"`
	Net          decimal.Decimal `json:"net"`
	Wallet       Wallet          `json:"wallet"`
	StockAfter   decimal.Decimal `json:"stock_after"`
	Timestamp    time.Time       `json:"timestamp"`
}

// TradeEvent is handed to the commission engine after a buy commits.
type TradeEvent struct {
	TradeID  string          `json:"trade_id"`
	MemberID string          `json:"member_id"`
	Grams    decimal.Decimal `json:"grams"`
	Value    decimal.Decimal `json:"value"` // RM actually paid
	At       time.Time       `json:"at"`
}

// CommissionRule identifies the rule that produced a commission record.
type CommissionRule string

const (
	RuleReferral     CommissionRule = "REFERRAL"
	RuleOverride     CommissionRule = "OVERRIDE"
	RuleMonthlyGroup CommissionRule = "MONTHLY_GROUP"
	RuleYearlyGroup  CommissionRule = "YEARLY_GROUP"
)

// CommissionStatus tells whether the amount reached the sponsor.
type CommissionStatus string

const (
	StatusQualified   CommissionStatus = "QUALIFIED"
	StatusUnqualified CommissionStatus = "UNQUALIFIED"
)

// CommissionRecord is written once per rule evaluation and never mutated.
// Closing bonuses use it with an empty SourceMemberID.
type CommissionRecord struct {
	ID             string           `json:"id" db:"id"`
	SponsorID      string           `json:"sponsor_id" db:"sponsor_id"`
	SourceMemberID string           `json:"source_member_id,omitempty" db:"source_member_id"`
	TradeRef       string           `json:"trade_ref,omitempty" db:"trade_ref"`
	Period         string           `json:"period" db:"period"`
	Rule           CommissionRule   `json:"rule" db:"rule"`
	Amount         decimal.Decimal  `json:"amount" db:"amount"`
	Status         CommissionStatus `json:"status" db:"status"`
	Note           string           `json:"note" db:"note"`
	CreatedAt      time.Time        `json:"created_at" db:"created_at"`
}

// CommissionFilter selects commission records. Zero-valued fields match everything.
type CommissionFilter struct {
	SponsorID      string
	SourceMemberID string
	Rule           CommissionRule
	Status         CommissionStatus
	Period         string
}

// Match reports whether r satisfies the filter.
func (f CommissionFilter) Match(r *CommissionRecord) bool {
	if f.SponsorID != "" && r.SponsorID != f.SponsorID {
		return false
	}
	if f.SourceMemberID != "" && r.SourceMemberID != f.SourceMemberID {
		return false
	}
	if f.Rule != "" && r.Rule != f.Rule {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.Period != "" && r.Period != f.Period {
		return false
	}
	return true
}

// PeriodType is the closing cadence.
type PeriodType string

const (
	PeriodMonthly PeriodType = "MONTHLY"
	PeriodYearly  PeriodType = "YEARLY"
)

// TopUpStatus tracks a top-up request through review.
type TopUpStatus string

const (
	TopUpPending  TopUpStatus = "PENDING"
	TopUpApproved TopUpStatus = "APPROVED"
	TopUpRejected TopUpStatus = "REJECTED"
)

// TopUpRequest is a member's payment awaiting admin review.
type TopUpRequest struct {
	ID          string          `json:"id" db:"id"`
	MemberID    string          `json:"member_id" db:"member_id"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	Destination string          `json:"destination" db:"destination"`
	ProofURL    string          `json:"proof_url" db:"proof_url"`
	Status      TopUpStatus     `json:"status" db:"status"`
	HandledBy   string          `json:"handled_by,omitempty" db:"handled_by"`
	HandledAt   *time.Time      `json:"handled_at,omitempty" db:"handled_at"`
	Reason      string          `json:"reason,omitempty" db:"reason"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// Notification is a message for the notification sink.
type Notification struct {
	MemberID string `json:"member_id"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	Category string `json:"category"`
}

// Notification categories.
const (
	CategoryTransaction = "TRANSACTION"
	CategoryMarketing   = "MARKETING"
	CategorySuccess     = "SUCCESS"
	CategoryWarning     = "WARNING"
	CategoryError       = "ERROR"
)

// AuditEntry is one row of the general audit trail.
type AuditEntry struct {
	ID        string    `json:"id"`
	ActorID   string    `json:"actor_id"`
	Action    string    `json:"action"`
	Details   string    `json:"details"`
	TargetID  string    `json:"target_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
