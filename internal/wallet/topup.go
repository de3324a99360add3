package wallet

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/goldnet/ledger-engine/internal/apperr"
	"github.com/goldnet/ledger-engine/internal/audit"
	"github.com/goldnet/ledger-engine/internal/metrics"
	"github.com/goldnet/ledger-engine/internal/model"
	"github.com/goldnet/ledger-engine/internal/reserve"
	"github.com/goldnet/ledger-engine/internal/store"
)

// Destination says where approved top-up money goes.
type Destination string

const (
	DestCredit     Destination = "E_CREDIT"
	DestAnnualFee  Destination = "ANNUAL_FEE"
	DestSpecialFee Destination = "SPECIAL_FEE"
)

// ParseDestination accepts a destination name case-insensitively. An empty
// string means E_CREDIT.
func ParseDestination(s string) (Destination, error) {
	switch d := Destination(strings.ToUpper(strings.TrimSpace(s))); d {
	case "":
		return DestCredit, nil
	case DestCredit, DestAnnualFee, DestSpecialFee:
		return d, nil
	}
	return "", apperr.Invalid("unknown top-up destination %q", s)
}

// topUpHandler moves an approved amount to its destination inside the
// approving unit.
type topUpHandler func(ctx context.Context, tx store.Tx, req *model.TopUpRequest, amount decimal.Decimal, actorID string) error

func (s *Service) handler(d Destination) (topUpHandler, error) {
	switch d {
	case DestCredit:
		return s.creditTopUp, nil
	case DestAnnualFee:
		return s.annualFeeTopUp, nil
	case DestSpecialFee:
		return s.specialFeeTopUp, nil
	}
	return nil, apperr.Invalid("unknown top-up destination %q", d)
}

// creditTopUp adds the amount to the member's spendable credit.
func (s *Service) creditTopUp(ctx context.Context, tx store.Tx, req *model.TopUpRequest, amount decimal.Decimal, actorID string) error {
	w, err := tx.LockWallet(ctx, req.MemberID)
	if err != nil {
		return err
	}
	if err := store.PostWallet(ctx, tx, w, &model.LedgerEntry{
		Stream:  model.StreamCredit,
		Account: model.AccountCredit,
		Amount:  amount,
		Ref:     topUpRef(req.ID),
		Note:    "top-up approved",
		ActorID: actorID,
	}); err != nil {
		return err
	}
	return tx.SaveWallet(ctx, w)
}

// annualFeeTopUp treats the payment as the annual fee and renews.
func (s *Service) annualFeeTopUp(ctx context.Context, tx store.Tx, req *model.TopUpRequest, amount decimal.Decimal, actorID string) error {
	_, err := s.renewTx(ctx, tx, req.MemberID, amount, actorID, topUpRef(req.ID))
	return err
}

// specialFeeTopUp sends the payment to the reserve fund.
func (s *Service) specialFeeTopUp(ctx context.Context, tx store.Tx, req *model.TopUpRequest, amount decimal.Decimal, actorID string) error {
	_, err := reserve.DepositTx(ctx, tx, amount,
		fmt.Sprintf("special fee top-up from %s", req.MemberID), actorID, topUpRef(req.ID))
	return err
}

func topUpRef(id string) string {
	if len(id) > 8 {
		id = id[:8]
	}
	return "TOPUP-" + strings.ToUpper(id)
}

// RequestTopUp files a member's payment for admin review.
func (s *Service) RequestTopUp(ctx context.Context, memberID string, amount decimal.Decimal, proofURL string, dest Destination) (*model.TopUpRequest, error) {
	if memberID == "" {
		return nil, apperr.Invalid("member id is required")
	}
	amount = amount.Round(2)
	if !amount.IsPositive() {
		return nil, apperr.Invalid("top-up amount must be positive, got %s", amount)
	}
	dest, err := ParseDestination(string(dest))
	if err != nil {
		return nil, err
	}

	req := &model.TopUpRequest{
		MemberID:    memberID,
		Amount:      amount,
		Destination: string(dest),
		ProofURL:    proofURL,
		Status:      model.TopUpPending,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.CreateTopUp(ctx, req); err != nil {
		return nil, err
	}
	s.trail.Record(ctx, memberID, audit.ActionTopUpRequest,
		fmt.Sprintf("amount=%s destination=%s", amount.StringFixed(2), dest), req.ID)
	return req, nil
}

// PendingTopUps lists requests awaiting review, oldest first.
func (s *Service) PendingTopUps(ctx context.Context) ([]model.TopUpRequest, error) {
	return s.store.ListTopUps(ctx, model.TopUpPending)
}

// ApproveTopUp settles a pending request for finalAmount. override, when
// set, replaces the destination the member asked for.
func (s *Service) ApproveTopUp(ctx context.Context, actorID, id string, finalAmount decimal.Decimal, override *Destination) (*model.TopUpRequest, error) {
	if err := s.requireAdmin(ctx, actorID); err != nil {
		return nil, err
	}
	finalAmount = finalAmount.Round(2)
	if !finalAmount.IsPositive() {
		return nil, apperr.Invalid("approved amount must be positive, got %s", finalAmount)
	}

	var req *model.TopUpRequest
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		req, err = tx.LockTopUp(ctx, id)
		if err != nil {
			return err
		}
		if req.Status != model.TopUpPending {
			return fmt.Errorf("%w: top-up %s is %s", apperr.ErrAlreadyProcessed, id, req.Status)
		}

		dest, err := ParseDestination(req.Destination)
		if err != nil {
			return err
		}
		if override != nil {
			if dest, err = ParseDestination(string(*override)); err != nil {
				return err
			}
		}
		handle, err := s.handler(dest)
		if err != nil {
			return err
		}
		if err := handle(ctx, tx, req, finalAmount, actorID); err != nil {
			return err
		}

		at := s.now().UTC()
		req.Status = model.TopUpApproved
		req.Amount = finalAmount
		req.Destination = string(dest)
		req.HandledBy = actorID
		req.HandledAt = &at
		return tx.SaveTopUp(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	switch Destination(req.Destination) {
	case DestSpecialFee:
		if bal, err := s.store.ReserveBalance(ctx); err == nil {
			metrics.ReserveBalance.Set(metrics.Float(bal))
		}
	case DestAnnualFee:
		if m, err := s.store.GetMember(ctx, req.MemberID); err == nil && m.MembershipExpiry != nil {
			s.renewed(ctx, actorID, req.MemberID, finalAmount, *m.MembershipExpiry)
		}
	}
	s.trail.Record(ctx, actorID, audit.ActionTopUpApprove,
		fmt.Sprintf("amount=%s destination=%s member=%s", finalAmount.StringFixed(2), req.Destination, req.MemberID), req.ID)
	s.notify(ctx, req.MemberID, "Top-up Approved",
		fmt.Sprintf("Your payment of RM%s has been approved as %s.", finalAmount.StringFixed(2), req.Destination),
		model.CategorySuccess)
	slog.Info("top-up approved", "id", req.ID, "member", req.MemberID, "amount", finalAmount.String(), "destination", req.Destination, "actor", actorID)
	return req, nil
}

// RejectTopUp closes a pending request without moving money.
func (s *Service) RejectTopUp(ctx context.Context, actorID, id, reason string) (*model.TopUpRequest, error) {
	if err := s.requireAdmin(ctx, actorID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(reason) == "" {
		return nil, apperr.Invalid("rejection reason is required")
	}

	var req *model.TopUpRequest
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		req, err = tx.LockTopUp(ctx, id)
		if err != nil {
			return err
		}
		if req.Status != model.TopUpPending {
			return fmt.Errorf("%w: top-up %s is %s", apperr.ErrAlreadyProcessed, id, req.Status)
		}
		at := s.now().UTC()
		req.Status = model.TopUpRejected
		req.Reason = reason
		req.HandledBy = actorID
		req.HandledAt = &at
		return tx.SaveTopUp(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	s.trail.Record(ctx, actorID, audit.ActionTopUpReject,
		fmt.Sprintf("member=%s reason=%s", req.MemberID, reason), req.ID)
	s.notify(ctx, req.MemberID, "Top-up Rejected",
		fmt.Sprintf("Your payment of RM%s was rejected: %s", req.Amount.StringFixed(2), reason),
		model.CategoryError)
	return req, nil
}
