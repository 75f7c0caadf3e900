package wallet

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/fundflow/internal/ledger"
)

var validate = validator.New()

// Handler exposes wallet and payment method endpoints for the authenticated owner.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	Currency string `json:"currency" validate:"omitempty,len=3"`
}

type paymentMethodRequest struct {
	Kind   string `json:"kind" validate:"required,oneof=card digital-wallet"`
	Number string `json:"number" validate:"omitempty,max=64"`
}

func owner(c *fiber.Ctx) (string, error) {
	uid, _ := c.Locals("user_id").(string)
	if uid == "" {
		return "", fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}
	return uid, nil
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ledger.ErrWalletExists):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrWalletNotFound), errors.Is(err, ErrPaymentMethodNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrUnsupportedCurrency), errors.Is(err, ErrInvalidPaymentMethod):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}

// Create provisions the caller's wallet.
func (h *Handler) Create(c *fiber.Ctx) error {
	uid, err := owner(c)
	if err != nil {
		return err
	}
	var req createRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
	}
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	w, err := h.service.Create(c.UserContext(), uid, req.Currency)
	if err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusCreated).JSON(w)
}

// Wallet returns the caller's wallet.
func (h *Handler) Wallet(c *fiber.Ctx) error {
	uid, err := owner(c)
	if err != nil {
		return err
	}
	w, err := h.service.Get(c.UserContext(), uid)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(w)
}

// Balance returns the caller's balance; a missing wallet reads as zero.
func (h *Handler) Balance(c *fiber.Ctx) error {
	uid, err := owner(c)
	if err != nil {
		return err
	}
	balance, err := h.service.Balance(c.UserContext(), uid)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(balance)
}

// PaymentMethods lists the caller's payment methods.
func (h *Handler) PaymentMethods(c *fiber.Ctx) error {
	uid, err := owner(c)
	if err != nil {
		return err
	}
	methods, err := h.service.PaymentMethods(c.UserContext(), uid)
	if err != nil {
		return httpError(err)
	}
	if methods == nil {
		methods = []PaymentMethod{}
	}
	return c.JSON(methods)
}

// AddPaymentMethod registers a payment method for the caller.
func (h *Handler) AddPaymentMethod(c *fiber.Ctx) error {
	uid, err := owner(c)
	if err != nil {
		return err
	}
	var req paymentMethodRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	pm, err := h.service.AddPaymentMethod(c.UserContext(), AddPaymentMethodInput{OwnerID: uid, Kind: req.Kind, Number: req.Number})
	if err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusCreated).JSON(pm)
}

// RemovePaymentMethod deletes one of the caller's payment methods.
func (h *Handler) RemovePaymentMethod(c *fiber.Ctx) error {
	uid, err := owner(c)
	if err != nil {
		return err
	}
	if err := h.service.RemovePaymentMethod(c.UserContext(), uid, c.Params("id")); err != nil {
		return httpError(err)
	}
	return c.SendStatus(http.StatusNoContent)
}

// SetDefaultPaymentMethod makes one of the caller's methods the default.
func (h *Handler) SetDefaultPaymentMethod(c *fiber.Ctx) error {
	uid, err := owner(c)
	if err != nil {
		return err
	}
	pm, err := h.service.SetDefaultPaymentMethod(c.UserContext(), uid, c.Params("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(pm)
}
