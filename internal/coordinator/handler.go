package coordinator

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/fundflow/internal/ledger"
	"github.com/congo-pay/fundflow/internal/wallet"
)

var validate = validator.New()

// Handler exposes withdrawal, subscription and support endpoints for the
// authenticated owner.
type Handler struct {
	service *Service
}

// NewHandler constructs a coordinator handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type withdrawalRequest struct {
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency" validate:"omitempty,len=3"`
	PaymentMethodID string          `json:"payment_method_id" validate:"required"`
}

type transferRequest struct {
	AuthorID        string          `json:"author_id" validate:"required"`
	Amount          decimal.Decimal `json:"amount"`
	PaymentMethodID string          `json:"payment_method_id" validate:"required"`
}

func ownerID(c *fiber.Ctx) (string, error) {
	uid, _ := c.Locals("user_id").(string)
	if uid == "" {
		return "", fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}
	return uid, nil
}

func parse(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := validate.Struct(out); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return nil
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrConflict):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrServiceUnavailable):
		return fiber.NewError(http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, wallet.ErrPaymentMethodNotFound):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrWalletNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}

// RequestWithdrawal accepts a withdrawal and answers before it settles.
func (h *Handler) RequestWithdrawal(c *fiber.Ctx) error {
	uid, err := ownerID(c)
	if err != nil {
		return err
	}
	var req withdrawalRequest
	if err := parse(c, &req); err != nil {
		return err
	}
	w, err := h.service.RequestWithdrawal(c.UserContext(), WithdrawalInput{
		OwnerID:         uid,
		Amount:          req.Amount,
		Currency:        req.Currency,
		PaymentMethodID: req.PaymentMethodID,
	})
	if err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusAccepted).JSON(w)
}

// Withdrawal returns one of the caller's withdrawals.
func (h *Handler) Withdrawal(c *fiber.Ctx) error {
	uid, err := ownerID(c)
	if err != nil {
		return err
	}
	w, err := h.service.Withdrawal(c.UserContext(), uid, c.Params("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(w)
}

// RequestSubscription subscribes the caller to an author.
func (h *Handler) RequestSubscription(c *fiber.Ctx) error {
	uid, err := ownerID(c)
	if err != nil {
		return err
	}
	var req transferRequest
	if err := parse(c, &req); err != nil {
		return err
	}
	sub, err := h.service.RequestSubscription(c.UserContext(), TransferInput{
		FromOwnerID:     uid,
		ToOwnerID:       req.AuthorID,
		Amount:          req.Amount,
		PaymentMethodID: req.PaymentMethodID,
	})
	if err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusAccepted).JSON(sub)
}

// Subscription returns a subscription the caller subscribes to or authors.
func (h *Handler) Subscription(c *fiber.Ctx) error {
	uid, err := ownerID(c)
	if err != nil {
		return err
	}
	sub, err := h.service.Subscription(c.UserContext(), uid, c.Params("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(sub)
}

// CancelSubscription cancels one of the caller's subscriptions.
func (h *Handler) CancelSubscription(c *fiber.Ctx) error {
	uid, err := ownerID(c)
	if err != nil {
		return err
	}
	sub, err := h.service.CancelSubscription(c.UserContext(), uid, c.Params("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(sub)
}

// RequestSupport sends a one-shot support payment to an author.
func (h *Handler) RequestSupport(c *fiber.Ctx) error {
	uid, err := ownerID(c)
	if err != nil {
		return err
	}
	var req transferRequest
	if err := parse(c, &req); err != nil {
		return err
	}
	st, err := h.service.RequestSupport(c.UserContext(), TransferInput{
		FromOwnerID:     uid,
		ToOwnerID:       req.AuthorID,
		Amount:          req.Amount,
		PaymentMethodID: req.PaymentMethodID,
	})
	if err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusAccepted).JSON(st)
}

// Settlement returns the settlement behind a correlation id.
func (h *Handler) Settlement(c *fiber.Ctx) error {
	uid, err := ownerID(c)
	if err != nil {
		return err
	}
	st, err := h.service.Settlement(c.UserContext(), uid, c.Params("correlationId"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(st)
}
