package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/fundflow/internal/messaging"
)

// counter sums every sample of the named family whose labels include want.
func counter(t *testing.T, m *Metrics, name string, want map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	var total float64
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	next:
		for _, metric := range f.GetMetric() {
			labels := map[string]string{}
			for _, l := range metric.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue next
				}
			}
			if c := metric.GetCounter(); c != nil {
				total += c.GetValue()
			}
			if h := metric.GetHistogram(); h != nil {
				total += float64(h.GetSampleCount())
			}
		}
	}
	return total
}

func TestCountersFollowEvents(t *testing.T) {
	m := New("wallet")

	m.Published("payment-service", messaging.KindDebitRequest)
	m.Published("payment-service", messaging.KindDebitRequest)
	m.Settled("wallet-service", messaging.KindDebitInstruction, messaging.OutcomeDeadLettered)
	m.RequestDispatched("withdrawal")
	m.SettlementResolved("withdrawal", "settled", 250*time.Millisecond)

	require.Equal(t, 2.0, counter(t, m, "fundflow_broker_published_total", map[string]string{"kind": "debit-request"}))
	require.Equal(t, 1.0, counter(t, m, "fundflow_broker_deliveries_total", map[string]string{"outcome": messaging.OutcomeDeadLettered}))
	require.Equal(t, 1.0, counter(t, m, "fundflow_coordinator_requests_dispatched_total", map[string]string{"purpose": "withdrawal", "service": "wallet"}))
	require.Equal(t, 1.0, counter(t, m, "fundflow_coordinator_settlements_resolved_total", map[string]string{"status": "settled"}))
	require.Equal(t, 1.0, counter(t, m, "fundflow_coordinator_settlement_duration_seconds", nil))
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New("payment")
	m.RequestDispatched("support")

	app := fiber.New()
	app.Get("/metrics", m.Handler())
	resp, err := app.Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `fundflow_coordinator_requests_dispatched_total{purpose="support",service="payment"} 1`)
}
