package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/congo-pay/fundflow/internal/logging"
	"github.com/congo-pay/fundflow/internal/messaging"
	"github.com/congo-pay/fundflow/internal/payments"
)

// droppingPublisher loses every outbound message matching drop.
type droppingPublisher struct {
	next messaging.Publisher
	drop func(messaging.Outbound) bool
}

func (p droppingPublisher) Publish(ctx context.Context, destination string, out messaging.Outbound) error {
	if p.drop(out) {
		return nil
	}
	return p.next.Publish(ctx, destination, out)
}

type flow struct {
	*harness
	broker *messaging.MemoryBroker
}

// newFlow wires the coordinator and a payment processor over an in-memory broker.
// The processor publishes its instructions through processorOut when it is set.
func newFlow(t *testing.T, processorOut func(messaging.Publisher) messaging.Publisher) *flow {
	t.Helper()
	broker := messaging.NewMemoryBroker(logging.Discard(), messaging.Options{MaxDeliver: 3, Concurrency: 4})
	h := newHarness(t, broker)

	var out messaging.Publisher = broker
	if processorOut != nil {
		out = processorOut(broker)
	}
	processor := payments.NewService(logging.Discard(), out)

	ctx, cancel := context.WithCancel(context.Background())
	workers := []*messaging.Worker{
		messaging.NewWorker(logging.Discard(), broker, paymentQueue, processor.Handle),
		messaging.NewWorker(logging.Discard(), broker, replyQueue, h.svc.HandleInstruction),
	}
	done := make(chan struct{}, len(workers))
	for _, w := range workers {
		go func(w *messaging.Worker) {
			_ = w.Start(ctx)
			done <- struct{}{}
		}(w)
	}
	t.Cleanup(func() {
		cancel()
		for range workers {
			<-done
		}
		_ = broker.Close()
	})
	return &flow{harness: h, broker: broker}
}

func (f *flow) status(t *testing.T, owner, correlationID string) SettlementStatus {
	t.Helper()
	st, err := f.svc.Settlement(context.Background(), owner, correlationID)
	require.NoError(t, err)
	return st.Status
}

func TestFlow_SupportTransferSettlesThroughProcessor(t *testing.T) {
	f := newFlow(t, nil)
	card := f.owner(t, "u1", 100)
	f.owner(t, "u2", 0)

	st, err := f.svc.RequestSupport(context.Background(), TransferInput{FromOwnerID: "u1", ToOwnerID: "u2", Amount: dec(40), PaymentMethodID: card})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return f.status(t, "u1", st.CorrelationID) == SettlementSettled
	}, 2*time.Second, 5*time.Millisecond)
	require.True(t, f.balance(t, "u1").Equal(dec(60)))
	require.True(t, f.balance(t, "u2").Equal(dec(40)))
	require.Empty(t, f.broker.DeadLetters())
}

func TestFlow_WithdrawalApprovedThroughProcessor(t *testing.T) {
	f := newFlow(t, nil)
	card := f.owner(t, "u1", 100)

	w, err := f.svc.RequestWithdrawal(context.Background(), WithdrawalInput{OwnerID: "u1", Amount: dec(30), PaymentMethodID: card})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := f.svc.Withdrawal(context.Background(), "u1", w.ID)
		return err == nil && got.Status == WithdrawalApproved
	}, 2*time.Second, 5*time.Millisecond)
	require.True(t, f.balance(t, "u1").Equal(dec(70)))
}

func TestFlow_LostCreditLegIsAbandoned(t *testing.T) {
	f := newFlow(t, func(next messaging.Publisher) messaging.Publisher {
		return droppingPublisher{next: next, drop: func(out messaging.Outbound) bool {
			return out.Payload.Kind() == messaging.KindCreditInstruction
		}}
	})
	card := f.owner(t, "u1", 100)
	f.owner(t, "u2", 0)
	ctx := context.Background()

	sub, err := f.svc.RequestSubscription(ctx, TransferInput{FromOwnerID: "u1", ToOwnerID: "u2", Amount: dec(40), PaymentMethodID: card})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		st, err := f.svc.Settlement(ctx, "u1", sub.CorrelationID)
		return err == nil && len(st.Legs) == 1
	}, 2*time.Second, 5*time.Millisecond)
	require.True(t, f.balance(t, "u1").Equal(dec(100)))
	require.True(t, f.balance(t, "u2").IsZero())

	f.clock.Advance(timeout + time.Second)
	n, err := f.svc.Reconcile(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.Equal(t, SettlementAbandoned, f.status(t, "u1", sub.CorrelationID))
	got, err := f.svc.Subscription(ctx, "u1", sub.ID)
	require.NoError(t, err)
	require.Equal(t, SubscriptionFailed, got.Status)
	require.True(t, f.balance(t, "u1").Equal(dec(100)))
	require.True(t, f.balance(t, "u2").IsZero())
}

func TestFlow_InstructionForUnknownSettlementIsDeadLettered(t *testing.T) {
	f := newFlow(t, nil)

	err := f.broker.Publish(context.Background(), replyQueue, messaging.Outbound{
		CorrelationID: "never-dispatched",
		Payload:       messaging.CreditInstruction{UserID: "u1", Amount: dec(5), Currency: "RUB", Legs: 1},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(f.broker.DeadLetters()) == 1 }, 2*time.Second, 5*time.Millisecond)
	dl := f.broker.DeadLetters()[0]
	require.Equal(t, replyQueue, dl.Queue)
	require.Equal(t, "unknown correlation id", dl.Reason)
}
