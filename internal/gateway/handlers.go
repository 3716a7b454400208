package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/optty-gateway/internal/callback"
	"github.com/noah-isme/optty-gateway/internal/common"
	"github.com/noah-isme/optty-gateway/internal/order"
	"github.com/noah-isme/optty-gateway/internal/payment"
	"github.com/noah-isme/optty-gateway/internal/ref"
	"github.com/noah-isme/optty-gateway/internal/refund"
)

// DefaultReceivedText is shown on the order-received page when no deferred
// notice is pending.
const DefaultReceivedText = "Thank you. Your order has been received."

// StoreURLs are the storefront pages the callback handler redirects buyers to.
type StoreURLs struct {
	Cart     string
	Checkout string
	Received string
}

// Handler exposes the gateway's HTTP surface: checkout submission, the
// aggregator callback, refunds and the order-received text.
type Handler struct {
	Orders      Submitter
	Payments    *payment.Service
	Refunds     *refund.Service
	Reconciler  callback.Reconciler
	URLs        StoreURLs
	WidgetURL   string
	Description string

	// CallbackLimiter, when set, rate-limits the public callback route.
	CallbackLimiter func(http.Handler) http.Handler

	Logger zerolog.Logger
}

// Submitter is the slice of the order store the HTTP layer needs.
type Submitter interface {
	Get(ctx context.Context, id string) (order.Order, error)
	AddNote(ctx context.Context, id string, text string, customerFacing bool) error
	UpdateStatus(ctx context.Context, id string, status order.Status) error
	SetPaymentMethod(ctx context.Context, id string, title string) error
	SetLastReference(ctx context.Context, id string, reference string) error
	AddRefund(ctx context.Context, id string, amount float64, reference string) (float64, error)
}

// Routes mounts the gateway endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/checkout/{orderID}/pay", h.Pay)
	r.Post("/orders/{orderID}/refund", h.Refund)
	r.Get("/orders/{orderID}/received", h.Received)
	r.Get("/gateway/optty/config", h.WidgetConfig)

	cb := http.Handler(http.HandlerFunc(h.Callback))
	if h.CallbackLimiter != nil {
		cb = h.CallbackLimiter(cb)
	}
	r.Method(http.MethodGet, "/gateway/optty/callback", cb)
}

type payInput struct {
	SelectedBnpl string `json:"selectedBnpl"`
}

// Pay submits the order to the aggregator and returns the widget redirect.
func (h *Handler) Pay(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	o, err := h.Orders.Get(r.Context(), orderID)
	if errors.Is(err, order.ErrNotFound) {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "order not found", nil)
		return
	}
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "order lookup failed", nil)
		return
	}

	var in payInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.SelectedBnpl == "" {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "Please select a BNPL!", nil)
		return
	}

	payload := h.Payments.BuildPayload(r.Context(), o, in.SelectedBnpl)
	h.note(r, orderID, "Creating order, reference: "+payload.OrderReference)
	if err := h.Orders.SetPaymentMethod(r.Context(), orderID, payment.ProviderTitle(in.SelectedBnpl)); err != nil {
		h.Logger.Error().Err(err).Str("order_id", orderID).Msg("payment method update failure")
	}
	if err := h.Orders.SetLastReference(r.Context(), orderID, payload.OrderReference); err != nil {
		h.Logger.Error().Err(err).Str("order_id", orderID).Msg("reference update failure")
	}

	res := h.Payments.Submit(r.Context(), payload)
	if !res.OK {
		h.note(r, orderID, "Unable to create order.")
		common.JSONError(w, http.StatusBadGateway, "PAYMENT_REJECTED", "Error processing request. Please try again.", nil)
		return
	}
	h.note(r, orderID, "Order created successfully.")

	var created struct {
		RedirectURL string `json:"redirectUrl"`
	}
	if err := json.Unmarshal(res.Data, &created); err != nil || created.RedirectURL == "" {
		h.Logger.Error().Err(err).Str("order_id", orderID).Msg("order accepted without redirect url")
		common.JSONError(w, http.StatusBadGateway, "PAYMENT_REJECTED", "Error processing request. Please try again.", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"result":   "success",
		"redirect": created.RedirectURL,
	})
}

// Callback handles the aggregator's signed payment notification and answers
// with a storefront redirect.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	out := h.Reconciler.Handle(r.Context(), callback.Params{
		Status:    q.Get("status"),
		Hash:      q.Get("hash"),
		Reference: q.Get("reference"),
	})
	common.Redirect(w, r, h.redirectURL(out))
}

// redirectURL maps the reconciler's verdict onto a storefront URL. Notices
// for the cart and checkout pages travel as query parameters; the received
// page reads its notice from the outbox instead.
func (h *Handler) redirectURL(out callback.Outcome) string {
	var target string
	switch out.Disposition {
	case callback.RedirectReceived:
		target = h.URLs.Received
	case callback.RedirectCheckout:
		target = h.URLs.Checkout
	default:
		target = h.URLs.Cart
	}
	u, err := url.Parse(target)
	if err != nil {
		h.Logger.Error().Err(err).Str("target", target).Msg("bad storefront url")
		return target
	}
	q := u.Query()
	if out.OrderID != "" {
		q.Set("order", out.OrderID)
	}
	if out.Notice != "" && out.Disposition != callback.RedirectReceived {
		q.Set("notice", out.Notice)
		q.Set("notice_type", out.NoticeKind)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

type refundInput struct {
	Amount float64 `json:"amount"`
	Reason string  `json:"reason"`
}

// Refund submits a refund for a previously paid order. Once accumulated
// refunds reach the order total the order moves to refunded.
func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	o, err := h.Orders.Get(r.Context(), orderID)
	if errors.Is(err, order.ErrNotFound) {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "order not found", nil)
		return
	}
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "order lookup failed", nil)
		return
	}

	var in refundInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "invalid payload", nil)
		return
	}
	if in.Amount <= 0 {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "refund amount must be positive", nil)
		return
	}
	if o.TransactionID == "" {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "order has no captured payment", nil)
		return
	}
	reason := in.Reason
	if reason == "" {
		reason = "Refund for order " + orderID
	}

	res := h.Refunds.Process(r.Context(), refund.Payload{
		Amount:          in.Amount,
		Currency:        o.Currency,
		OrderReference:  o.TransactionID,
		RefundReference: ref.RefundReference(),
		Description:     reason,
	})
	if !res.OK {
		h.note(r, orderID, "Refund failed.")
		common.JSONError(w, http.StatusBadGateway, "REFUND_REJECTED", res.Message, nil)
		return
	}

	h.note(r, orderID, fmt.Sprintf("Refund of %v successfully approved.", res.Data.RefundedAmount))
	total, err := h.Orders.AddRefund(r.Context(), orderID, res.Data.RefundedAmount, res.Data.RefundReference)
	if err != nil {
		h.Logger.Error().Err(err).Str("order_id", orderID).Msg("refund bookkeeping failure")
	} else if total == o.Total {
		if o.Status != order.StatusRefunded {
			if err := h.Orders.UpdateStatus(r.Context(), orderID, order.StatusRefunded); err != nil {
				h.Logger.Error().Err(err).Str("order_id", orderID).Msg("refunded status update failure")
			}
		} else {
			h.note(r, orderID, "Order completely refunded.")
		}
	}

	common.JSON(w, http.StatusOK, map[string]any{"data": res.Data})
}

// Received returns the thank-you text for the order-received page,
// consuming any deferred notice left by the callback handler.
func (h *Handler) Received(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	o, err := h.Orders.Get(r.Context(), orderID)
	if errors.Is(err, order.ErrNotFound) {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "order not found", nil)
		return
	}
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "order lookup failed", nil)
		return
	}
	text := h.Reconciler.ReceivedText(r.Context(), DefaultReceivedText, o)
	common.JSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"message": text,
			"status":  string(o.Status),
		},
	})
}

// WidgetConfig exposes the storefront widget bootstrap settings.
func (h *Handler) WidgetConfig(w http.ResponseWriter, _ *http.Request) {
	common.JSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"widgetUrl":   h.WidgetURL,
			"description": h.Description,
		},
	})
}

func (h *Handler) note(r *http.Request, orderID, text string) {
	if err := h.Orders.AddNote(r.Context(), orderID, text, false); err != nil {
		h.Logger.Error().Err(err).Str("order_id", orderID).Msg("order note failure")
	}
}
