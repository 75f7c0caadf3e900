package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const reconcileBatch = 100

// Reconcile resolves settlements that outlived their deadline. Pending settlements never
// saw an instruction and are abandoned. Settling settlements get one more timeout of
// grace and are then resolved from the ledger: settled if the mutation was applied,
// abandoned otherwise. It returns how many settlements were resolved.
func (s *Service) Reconcile(ctx context.Context) (int, error) {
	now := s.now()
	expired, err := s.store.Expired(ctx, now, reconcileBatch)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, st := range expired {
		res := Resolution{CorrelationID: st.CorrelationID, At: now}
		switch st.Status {
		case SettlementPending:
			res.Status = SettlementAbandoned
			res.Reason = "no instruction before deadline"
			res.From = []SettlementStatus{SettlementPending}
		case SettlementSettling:
			if now.Before(st.Deadline.Add(s.cfg.SettlementTimeout)) {
				continue
			}
			applied, err := s.ledger.Applied(ctx, st.MutationID())
			if err != nil {
				s.log.Error("check applied mutation failed", slog.String("correlation_id", st.CorrelationID), "error", err)
				continue
			}
			res.From = []SettlementStatus{SettlementSettling}
			if applied {
				res.Status = SettlementSettled
			} else {
				res.Status = SettlementAbandoned
				res.Reason = "instruction not applied before deadline"
			}
		default:
			continue
		}

		out, ok, err := s.store.Resolve(ctx, res)
		if err != nil {
			s.log.Error("reconcile settlement failed", slog.String("correlation_id", st.CorrelationID), "error", err)
			continue
		}
		if !ok {
			continue
		}
		resolved++
		s.log.Info("settlement reconciled",
			slog.String("correlation_id", st.CorrelationID),
			slog.String("status", string(out.Status)),
			slog.String("reason", out.Reason))
		s.announce(ctx, out)
	}
	return resolved, nil
}

// Reconciler runs Reconcile on a fixed interval.
type Reconciler struct {
	service  *Service
	interval time.Duration
	log      *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewReconciler builds a reconciler ticking every interval.
func NewReconciler(service *Service, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Reconciler{service: service, interval: interval, log: service.log}
}

// Start blocks until Stop is called or ctx is cancelled.
func (r *Reconciler) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.mu.Lock()
	r.cancel = cancel
	r.done = done
	r.mu.Unlock()
	defer close(done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info("reconciler started", slog.Duration("interval", r.interval))
	for {
		select {
		case <-ctx.Done():
			r.log.Info("reconciler stopped")
			return nil
		case <-ticker.C:
			if _, err := r.service.Reconcile(ctx); err != nil && ctx.Err() == nil {
				r.log.Error("reconcile failed", "error", err)
			}
		}
	}
}

// Stop cancels the loop and waits for the current pass or ctx expiry.
func (r *Reconciler) Stop(ctx context.Context) error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
