package callback

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/optty-gateway/internal/cache"
	"github.com/noah-isme/optty-gateway/internal/common"
	"github.com/noah-isme/optty-gateway/internal/lock"
	"github.com/noah-isme/optty-gateway/internal/obs"
	"github.com/noah-isme/optty-gateway/internal/order"
	"github.com/noah-isme/optty-gateway/internal/payment"
	"github.com/noah-isme/optty-gateway/internal/ref"
)

// Disposition names the storefront page the buyer is redirected to after a
// callback has been handled. The HTTP layer maps it onto configured URLs.
type Disposition string

const (
	RedirectCart     Disposition = "cart"
	RedirectCheckout Disposition = "checkout"
	RedirectReceived Disposition = "received"
)

// Outcome is the reconciler's verdict on one inbound callback. Order-state
// side effects have already been applied when an Outcome is returned; the
// HTTP handler only performs the redirect and flashes the notice.
type Outcome struct {
	Disposition Disposition
	Notice      string
	NoticeKind  string
	OrderID     string
}

// StatusFetcher looks up the authoritative order record at the aggregator.
type StatusFetcher interface {
	OrderStatus(ctx context.Context, reference string) payment.Record
}

// CartClearer empties the buyer's cart once payment is settled or parked.
type CartClearer interface {
	Clear(ctx context.Context, orderKey string) error
}

// Reconciler maps verified callback statuses onto local order transitions.
type Reconciler struct {
	Orders   order.Store
	Payments StatusFetcher
	Outbox   cache.Outbox
	Carts    CartClearer
	Locks    lock.OrderLocker
	Verifier Verifier
	Logger   zerolog.Logger
}

// Handle verifies and reconciles one inbound callback. Verification happens
// before any order lookup; once verified, the per-order lock serializes
// concurrent deliveries for the same order so a duplicate webhook observes
// the state its twin left behind.
func (r Reconciler) Handle(ctx context.Context, p Params) Outcome {
	status := strings.ToLower(p.Status)
	result := "error"
	defer func() {
		if obs.CallbackTotal != nil {
			obs.CallbackTotal.WithLabelValues(status, result).Inc()
		}
	}()

	if err := r.Verifier.Verify(p); err != nil {
		result = "rejected"
		r.Logger.Warn().
			Str("code", common.CodeOf(err, common.CodeValidation)).
			Str("reference", p.Reference).
			Msg("callback rejected")
		return Outcome{
			Disposition: RedirectCart,
			Notice:      "Invalid callback",
			NoticeKind:  cache.NoticeKindError,
		}
	}

	number := ref.OrderNumber(p.Reference)

	var out Outcome
	err := r.Locks.WithOrderLock(ctx, number, func(ctx context.Context) error {
		out = r.reconcile(ctx, number, p.Reference)
		return nil
	})
	if err != nil {
		r.Logger.Error().Err(err).Str("order_number", number).Msg("callback lock failure")
		return Outcome{
			Disposition: RedirectCheckout,
			Notice:      "Error processing request. Please try again.",
			NoticeKind:  cache.NoticeKindError,
		}
	}
	result = out.result()
	return out
}

func (o Outcome) result() string {
	switch o.Disposition {
	case RedirectReceived:
		return "settled"
	case RedirectCheckout:
		return "failed"
	default:
		return "error"
	}
}

// reconcile runs under the per-order lock.
func (r Reconciler) reconcile(ctx context.Context, number, reference string) Outcome {
	o, err := r.Orders.GetByNumber(ctx, number)
	if errors.Is(err, order.ErrNotFound) {
		notice := fmt.Sprintf("No order with reference %s", number)
		r.Logger.Error().Str("order_number", number).Msg("no order for callback reference")
		return Outcome{Disposition: RedirectCart, Notice: notice, NoticeKind: cache.NoticeKindError}
	}
	if err != nil {
		r.Logger.Error().Err(err).Str("order_number", number).Msg("order lookup failure")
		return Outcome{
			Disposition: RedirectCheckout,
			Notice:      "Error processing request. Please try again.",
			NoticeKind:  cache.NoticeKindError,
			OrderID:     number,
		}
	}

	// A duplicate delivery for an order that is already paid must not re-run
	// completion side effects.
	if o.Status.Paid() {
		return Outcome{Disposition: RedirectReceived, OrderID: o.ID}
	}

	rec := r.Payments.OrderStatus(ctx, reference)
	if !rec.OK {
		r.Logger.Error().Str("reference", reference).Str("message", rec.Message).Msg("authoritative status unavailable")
		return Outcome{
			Disposition: RedirectCheckout,
			Notice:      "Error processing request. Please try again.",
			NoticeKind:  cache.NoticeKindError,
			OrderID:     o.ID,
		}
	}

	switch {
	case rec.Status == payment.StatusDeclined || rec.Status == payment.StatusFailed || rec.Status == payment.StatusCanceled:
		notice := fmt.Sprintf("Payment via Optty %s (Transaction Reference: %s)", rec.Status, reference)
		r.note(ctx, o.ID, notice, false)
		return Outcome{Disposition: RedirectCheckout, Notice: notice, NoticeKind: cache.NoticeKindError, OrderID: o.ID}

	case rec.Status == payment.StatusPending:
		notice := fmt.Sprintf("Payment via Optty %s (Transaction Reference: %s), requires payment status verification", rec.Status, reference)
		r.note(ctx, o.ID, notice, false)
		r.hold(ctx, o, notice)
		return Outcome{Disposition: RedirectReceived, Notice: notice, NoticeKind: cache.NoticeKindNotice, OrderID: o.ID}

	case rec.Status == payment.StatusSuccessful && rec.Amount < o.Total:
		r.note(ctx, o.ID, fmt.Sprintf(
			"Order has been placed on hold as customers wasn't charged full amount for order. Amount Paid: %v, Order Amount: %v. (Transaction Reference: %s)",
			rec.Amount, o.Total, reference), false)
		notice := fmt.Sprintf(
			"Your order has been placed on hold as you were not charged the full order amount. Amount Paid: %v, Order Amount: %v. (Transaction Reference: %s)",
			rec.Amount, o.Total, reference)
		r.note(ctx, o.ID, notice, true)
		r.hold(ctx, o, notice)
		return Outcome{Disposition: RedirectReceived, Notice: notice, NoticeKind: cache.NoticeKindNotice, OrderID: o.ID}

	case rec.Status == payment.StatusSuccessful && rec.Amount == o.Total:
		if err := r.Orders.PaymentComplete(ctx, o.ID, reference); err != nil {
			r.Logger.Error().Err(err).Str("order_id", o.ID).Msg("payment completion failure")
			return Outcome{
				Disposition: RedirectCheckout,
				Notice:      "Error processing request. Please try again.",
				NoticeKind:  cache.NoticeKindError,
				OrderID:     o.ID,
			}
		}
		r.note(ctx, o.ID, fmt.Sprintf("Payment via Optty successful (Transaction Reference: %s)", reference), false)
		r.clearCart(ctx, o.Key)
		return Outcome{Disposition: RedirectReceived, OrderID: o.ID}

	default:
		// Unknown statuses and overpayments land here on purpose; nothing is
		// recorded against the order until a human or the worker looks at it.
		notice := fmt.Sprintf("Payment status %s could not be reconciled (Transaction Reference: %s)", rec.Status, reference)
		r.note(ctx, o.ID, notice, false)
		r.Logger.Error().Str("status", rec.Status).Float64("amount", rec.Amount).Str("reference", reference).Msg("unhandled callback combination")
		return Outcome{Disposition: RedirectCheckout, Notice: notice, NoticeKind: cache.NoticeKindError, OrderID: o.ID}
	}
}

// hold parks the order on-hold, stores the deferred notice for the
// order-received render and empties the cart.
func (r Reconciler) hold(ctx context.Context, o order.Order, notice string) {
	if err := r.Orders.UpdateStatus(ctx, o.ID, order.StatusOnHold); err != nil {
		r.Logger.Error().Err(err).Str("order_id", o.ID).Msg("status update failure")
	}
	if err := r.Outbox.Put(ctx, o.Key, cache.Notice{Message: notice, Kind: cache.NoticeKindNotice}); err != nil {
		r.Logger.Error().Err(err).Str("order_id", o.ID).Msg("notice store failure")
	}
	r.clearCart(ctx, o.Key)
}

func (r Reconciler) note(ctx context.Context, orderID, text string, customerFacing bool) {
	if err := r.Orders.AddNote(ctx, orderID, text, customerFacing); err != nil {
		r.Logger.Error().Err(err).Str("order_id", orderID).Msg("order note failure")
	}
}

func (r Reconciler) clearCart(ctx context.Context, orderKey string) {
	if r.Carts == nil {
		return
	}
	if err := r.Carts.Clear(ctx, orderKey); err != nil {
		r.Logger.Error().Err(err).Str("order_key", orderKey).Msg("cart clear failure")
	}
}

// ReceivedText resolves the thank-you text for the order-received page. An
// order that is not yet paid consumes its pending notice, if any; the
// consume is atomic so a refresh shows the default text.
func (r Reconciler) ReceivedText(ctx context.Context, defaultText string, o order.Order) string {
	if o.Status.Paid() {
		return defaultText
	}
	n, ok, err := r.Outbox.Take(ctx, o.Key)
	if err != nil {
		r.Logger.Error().Err(err).Str("order_id", o.ID).Msg("notice take failure")
		return defaultText
	}
	if !ok || n.Message == "" {
		return defaultText
	}
	return n.Message
}

// ReconcileOnHold re-checks every on-hold order against the aggregator and
// applies the same transitions a live callback would. Run by the worker; an
// order stays on hold when the aggregator still reports it pending or short.
func (r Reconciler) ReconcileOnHold(ctx context.Context) error {
	orders, err := r.Orders.ListOnHold(ctx)
	if err != nil {
		return err
	}
	var failures int
	for _, o := range orders {
		if o.LastReference == "" {
			continue
		}
		err := r.Locks.WithOrderLock(ctx, o.Number, func(ctx context.Context) error {
			out := r.reconcile(ctx, o.Number, o.LastReference)
			r.Logger.Info().
				Str("order_id", o.ID).
				Str("disposition", string(out.Disposition)).
				Msg("on-hold order re-checked")
			return nil
		})
		if err != nil {
			failures++
			r.Logger.Error().Err(err).Str("order_id", o.ID).Msg("on-hold reconciliation failure")
		}
	}
	if failures > 0 {
		return fmt.Errorf("reconcile on-hold: %d of %d orders failed", failures, len(orders))
	}
	return nil
}
