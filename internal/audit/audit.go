// Package audit records who did what. Recording is best effort: a failed
// write is logged and never fails the audited operation.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/goldnet/ledger-engine/internal/model"
)

// Recorder persists audit rows. store.Store satisfies it, so the primary
// database is the default destination.
type Recorder interface {
	InsertAudit(ctx context.Context, e *model.AuditEntry) error
	ListAudit(ctx context.Context, limit int) ([]model.AuditEntry, error)
}

// Actions recorded by the engine.
const (
	ActionBuy             = "GOLD_BUY"
	ActionSell            = "GOLD_SELL"
	ActionReserveDeposit  = "RESERVE_DEPOSIT"
	ActionReserveWithdraw = "RESERVE_WITHDRAW"
	ActionTopUpRequest    = "TOPUP_REQUEST"
	ActionTopUpApprove    = "TOPUP_APPROVE"
	ActionTopUpReject     = "TOPUP_REJECT"
	ActionRebateCredit    = "REBATE_CREDIT"
	ActionAdjust          = "BALANCE_ADJUST"
	ActionStockAdjust     = "STOCK_ADJUST"
	ActionPayout          = "BONUS_PAYOUT"
	ActionRenewal         = "MEMBERSHIP_RENEWAL"
	ActionClosing         = "PERIOD_CLOSING"
	ActionSettingChange   = "SETTING_CHANGE"
	ActionSpreadChange    = "SPREAD_CHANGE"
)

// Trail is the write side used by services. A nil *Trail records nothing.
type Trail struct {
	rec Recorder
	now func() time.Time
}

// NewTrail creates a trail over rec.
func NewTrail(rec Recorder) *Trail {
	return &Trail{rec: rec, now: time.Now}
}

// Record writes one audit row.
func (t *Trail) Record(ctx context.Context, actorID, action, details, targetID string) {
	if t == nil || t.rec == nil {
		return
	}
	e := &model.AuditEntry{
		ID:        uuid.New().String(),
		ActorID:   actorID,
		Action:    action,
		Details:   details,
		TargetID:  targetID,
		Timestamp: t.now().UTC(),
	}
	if err := t.rec.InsertAudit(ctx, e); err != nil {
		slog.Warn("audit write failed", "err", err, "action", action, "actor", actorID)
	}
}

// Recent returns the newest rows first.
func (t *Trail) Recent(ctx context.Context, limit int) ([]model.AuditEntry, error) {
	if t == nil || t.rec == nil {
		return nil, nil
	}
	return t.rec.ListAudit(ctx, limit)
}
