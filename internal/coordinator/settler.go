package coordinator

import (
	"context"
	"errors"
	"log/slog"

	"github.com/congo-pay/fundflow/internal/ledger"
	"github.com/congo-pay/fundflow/internal/messaging"
)

// HandleInstruction consumes one ledger instruction from the reply queue. Single-leg
// instructions are applied immediately. Transfer legs are staged until both halves
// arrived and are then applied as one atomic ledger transfer.
func (s *Service) HandleInstruction(ctx context.Context, d *messaging.Delivery) {
	log := s.log.With(
		slog.String("correlation_id", d.CorrelationID),
		slog.String("message_id", d.ID),
		slog.Int("attempt", d.Attempt))

	in, err := incomingFromMessage(d.Message, s.now())
	if err != nil {
		reject(ctx, log, d, err.Error())
		return
	}
	leg := in.leg
	log = log.With(slog.String("leg", leg.Kind))

	settlement, err := s.store.Settlement(ctx, d.CorrelationID)
	switch {
	case errors.Is(err, ErrNotFound):
		reject(ctx, log, d, "unknown correlation id")
		return
	case err != nil:
		log.Error("load settlement failed", "error", err)
		nak(ctx, log, d)
		return
	}
	if settlement.Status.Terminal() {
		log.Info("dropping instruction for resolved settlement", slog.String("status", string(settlement.Status)))
		ack(ctx, log, d)
		return
	}
	if err := settlement.accepts(in); err != nil {
		reject(ctx, log, d, err.Error())
		return
	}

	if settlement.Kind == IntentTransfer {
		settlement, err = s.store.RecordLeg(ctx, leg)
		if err != nil {
			log.Error("stage leg failed", "error", err)
			nak(ctx, log, d)
			return
		}
		if settlement.Status.Terminal() {
			log.Info("dropping leg for resolved settlement", slog.String("status", string(settlement.Status)))
			ack(ctx, log, d)
			return
		}
		if !settlement.Complete() {
			log.Info("transfer leg staged", slog.Int("legs", len(settlement.Legs)))
			ack(ctx, log, d)
			return
		}
	}

	s.settle(ctx, log, d)
}

func (s *Service) settle(ctx context.Context, log *slog.Logger, d *messaging.Delivery) {
	settlement, claimed, err := s.store.Claim(ctx, d.CorrelationID)
	if err != nil {
		log.Error("claim settlement failed", "error", err)
		nak(ctx, log, d)
		return
	}
	if !claimed {
		ack(ctx, log, d)
		return
	}

	status, reason, err := s.apply(ctx, settlement)
	if err != nil {
		log.Error("ledger mutation failed", "error", err)
		nak(ctx, log, d)
		return
	}

	resolved, ok, err := s.store.Resolve(ctx, Resolution{
		CorrelationID: settlement.CorrelationID,
		Status:        status,
		Reason:        reason,
		At:            s.now(),
		From:          []SettlementStatus{SettlementPending, SettlementSettling},
	})
	if err == nil && !ok && status == SettlementSettled && resolved.Status == SettlementAbandoned {
		// The reconciler gave up while this mutation was committing.
		log.Warn("mutation committed after the settlement was abandoned, correcting it")
		resolved, ok, err = s.store.Resolve(ctx, Resolution{
			CorrelationID: settlement.CorrelationID,
			Status:        SettlementSettled,
			Reason:        "applied after deadline",
			At:            s.now(),
			From:          []SettlementStatus{SettlementAbandoned},
		})
	}
	if err != nil {
		log.Error("resolve settlement failed", "error", err)
		nak(ctx, log, d)
		return
	}
	if ok {
		log.Info("settlement resolved", slog.String("status", string(resolved.Status)), slog.String("reason", resolved.Reason))
		s.announce(ctx, resolved)
	}
	ack(ctx, log, d)
}

// apply runs the ledger mutation of a settlement. Business rejections resolve the
// settlement as failed; any other error is returned for redelivery.
func (s *Service) apply(ctx context.Context, st Settlement) (SettlementStatus, string, error) {
	var err error
	switch st.Kind {
	case IntentDebit:
		_, err = s.ledger.Debit(ctx, st.FromOwnerID, st.MutationID(), st.Amount)
	case IntentCredit:
		_, err = s.ledger.Credit(ctx, st.ToOwnerID, st.MutationID(), st.Amount)
	case IntentTransfer:
		_, err = s.ledger.Transfer(ctx, st.FromOwnerID, st.ToOwnerID, st.MutationID(), st.Amount)
	default:
		return SettlementFailed, "unknown intent kind " + string(st.Kind), nil
	}

	switch {
	case err == nil, errors.Is(err, ledger.ErrDuplicateMutation):
		return SettlementSettled, "", nil
	case errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrWalletNotFound),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrSelfTransfer):
		return SettlementFailed, err.Error(), nil
	default:
		return "", "", err
	}
}

func ack(ctx context.Context, log *slog.Logger, d *messaging.Delivery) {
	if err := d.Ack(ctx); err != nil {
		log.Error("ack failed", "error", err)
	}
}

func nak(ctx context.Context, log *slog.Logger, d *messaging.Delivery) {
	if err := d.Nak(ctx); err != nil {
		log.Error("nak failed", "error", err)
	}
}

func reject(ctx context.Context, log *slog.Logger, d *messaging.Delivery, reason string) {
	log.Warn("rejecting instruction", slog.String("reason", reason))
	if err := d.Reject(ctx, reason); err != nil {
		log.Error("reject failed", "error", err)
	}
}
