package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/fundflow/internal/coordinator"
	"github.com/congo-pay/fundflow/internal/wallet"
)

// RegisterWalletRoutes wires the owner-scoped wallet and fund movement endpoints.
func RegisterWalletRoutes(r fiber.Router, w *wallet.Handler, c *coordinator.Handler) {
	r.Post("/", w.Create)
	r.Get("/", w.Wallet)
	r.Get("/balance", w.Balance)

	r.Get("/payment-methods", w.PaymentMethods)
	r.Post("/payment-methods", w.AddPaymentMethod)
	r.Delete("/payment-methods/:id", w.RemovePaymentMethod)
	r.Post("/payment-methods/:id/default", w.SetDefaultPaymentMethod)

	r.Post("/withdrawals", c.RequestWithdrawal)
	r.Get("/withdrawals/:id", c.Withdrawal)
	r.Post("/subscriptions", c.RequestSubscription)
	r.Get("/subscriptions/:id", c.Subscription)
	r.Delete("/subscriptions/:id", c.CancelSubscription)
	r.Post("/support", c.RequestSupport)
	r.Get("/settlements/:correlationId", c.Settlement)
}
