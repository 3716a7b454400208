package callback_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/optty-gateway/internal/cache"
	"github.com/noah-isme/optty-gateway/internal/callback"
	"github.com/noah-isme/optty-gateway/internal/lock"
	"github.com/noah-isme/optty-gateway/internal/order"
	"github.com/noah-isme/optty-gateway/internal/payment"
)

const reference = "55-1700000000AB12"

type fakeAggregator struct {
	record payment.Record
	calls  int
}

func (f *fakeAggregator) OrderStatus(ctx context.Context, ref string) payment.Record {
	f.calls++
	return f.record
}

type fixture struct {
	orders     *order.MemoryStore
	aggregator *fakeAggregator
	redis      *miniredis.Miniredis
	client     *redis.Client
	reconciler callback.Reconciler
}

func newFixture(t *testing.T, record payment.Record) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	orders := order.NewMemoryStore()
	orders.Put(sampleOrder())

	aggregator := &fakeAggregator{record: record}
	return &fixture{
		orders:     orders,
		aggregator: aggregator,
		redis:      mr,
		client:     client,
		reconciler: callback.Reconciler{
			Orders:   orders,
			Payments: aggregator,
			Outbox:   cache.Outbox{R: client, TTL: time.Hour},
			Carts:    cache.Carts{R: client},
			Locks:    lock.OrderLocker{R: client, TTL: 5 * time.Second, RetryBackoff: time.Millisecond},
			Verifier: callback.Verifier{Secret: testSecret},
			Logger:   zerolog.Nop(),
		},
	}
}

func sampleOrder() order.Order {
	return order.Order{
		ID:       "55",
		Number:   "55",
		Key:      "wc_order_k3y55",
		Status:   order.StatusPendingPayment,
		Currency: "AUD",
		Total:    100,
		Items: []order.Item{
			{Name: "Gift card", SKU: "GC-100", Quantity: 1, UnitPrice: 100, Subtotal: 100},
		},
	}
}

func (f *fixture) order(t *testing.T) order.Order {
	t.Helper()
	o, err := f.orders.Get(context.Background(), "55")
	require.NoError(t, err)
	return o
}

func (f *fixture) pendingNotice(t *testing.T) (cache.Notice, bool) {
	t.Helper()
	n, ok, err := cache.Outbox{R: f.client}.Take(context.Background(), "wc_order_k3y55")
	require.NoError(t, err)
	return n, ok
}

func TestHandlePendingParksOrderOnHold(t *testing.T) {
	f := newFixture(t, payment.Record{OK: true, Status: payment.StatusPending, Amount: 0})
	f.redis.Set("cart:wc_order_k3y55", "1")

	out := f.reconciler.Handle(context.Background(), signedParams("pending", reference))

	assert.Equal(t, callback.RedirectReceived, out.Disposition)
	assert.Equal(t, cache.NoticeKindNotice, out.NoticeKind)
	assert.Equal(t, order.StatusOnHold, f.order(t).Status)

	n, ok := f.pendingNotice(t)
	require.True(t, ok)
	assert.Contains(t, n.Message, "requires payment status verification")
	assert.False(t, f.redis.Exists("cart:wc_order_k3y55"), "cart must be emptied")
}

func TestHandleShortfallParksOrderOnHold(t *testing.T) {
	f := newFixture(t, payment.Record{OK: true, Status: payment.StatusSuccessful, Amount: 80})

	out := f.reconciler.Handle(context.Background(), signedParams("successful", reference))

	assert.Equal(t, callback.RedirectReceived, out.Disposition)
	assert.Equal(t, order.StatusOnHold, f.order(t).Status)

	notes := f.orders.Notes("55")
	require.Len(t, notes, 2)
	assert.Contains(t, notes[0].Text, "wasn't charged full amount")
	assert.True(t, notes[1].CustomerFacing)
	assert.Contains(t, notes[1].Text, "Amount Paid: 80, Order Amount: 100")

	n, ok := f.pendingNotice(t)
	require.True(t, ok)
	assert.Contains(t, n.Message, "not charged the full order amount")
}

func TestHandleFullPaymentCompletesOrder(t *testing.T) {
	f := newFixture(t, payment.Record{OK: true, Status: payment.StatusSuccessful, Amount: 100})
	f.redis.Set("cart:wc_order_k3y55", "1")

	out := f.reconciler.Handle(context.Background(), signedParams("successful", reference))

	assert.Equal(t, callback.RedirectReceived, out.Disposition)
	assert.Empty(t, out.Notice)

	o := f.order(t)
	assert.Equal(t, order.StatusCompleted, o.Status, "nothing to ship, straight to completed")
	assert.Equal(t, reference, o.TransactionID)
	assert.False(t, f.redis.Exists("cart:wc_order_k3y55"))

	notes := f.orders.Notes("55")
	require.Len(t, notes, 1)
	assert.Contains(t, notes[0].Text, "Payment via Optty successful")
}

func TestHandleDeclinedRedirectsToCheckout(t *testing.T) {
	f := newFixture(t, payment.Record{OK: true, Status: payment.StatusDeclined})
	f.redis.Set("cart:wc_order_k3y55", "1")

	out := f.reconciler.Handle(context.Background(), signedParams("declined", reference))

	assert.Equal(t, callback.RedirectCheckout, out.Disposition)
	assert.Equal(t, cache.NoticeKindError, out.NoticeKind)
	assert.Contains(t, out.Notice, "Payment via Optty declined")
	assert.Equal(t, order.StatusPendingPayment, f.order(t).Status, "order stays unpaid")
	assert.True(t, f.redis.Exists("cart:wc_order_k3y55"), "cart must survive a decline")
}

func TestHandleDuplicateDeliveryIsIdempotent(t *testing.T) {
	f := newFixture(t, payment.Record{OK: true, Status: payment.StatusSuccessful, Amount: 100})

	first := f.reconciler.Handle(context.Background(), signedParams("successful", reference))
	require.Equal(t, callback.RedirectReceived, first.Disposition)
	require.Equal(t, 1, f.aggregator.calls)

	f.redis.Set("cart:wc_order_k3y55", "1")
	second := f.reconciler.Handle(context.Background(), signedParams("successful", reference))

	assert.Equal(t, callback.RedirectReceived, second.Disposition)
	assert.Equal(t, 1, f.aggregator.calls, "paid order must not be re-fetched")
	assert.True(t, f.redis.Exists("cart:wc_order_k3y55"), "no side effects on replay")
	assert.Len(t, f.orders.Notes("55"), 1, "completion note not duplicated")
}

func TestHandleBadSignatureRedirectsToCart(t *testing.T) {
	f := newFixture(t, payment.Record{OK: true, Status: payment.StatusSuccessful, Amount: 100})

	p := signedParams("successful", reference)
	p.Status = "declined" // signature no longer matches

	out := f.reconciler.Handle(context.Background(), p)

	assert.Equal(t, callback.RedirectCart, out.Disposition)
	assert.Equal(t, "Invalid callback", out.Notice)
	assert.Equal(t, 0, f.aggregator.calls, "no upstream call before verification")
	assert.Equal(t, order.StatusPendingPayment, f.order(t).Status)
}

func TestHandleUnknownOrderRedirectsToCart(t *testing.T) {
	f := newFixture(t, payment.Record{OK: true, Status: payment.StatusSuccessful, Amount: 100})

	out := f.reconciler.Handle(context.Background(), signedParams("successful", "99-1700000000CD34"))

	assert.Equal(t, callback.RedirectCart, out.Disposition)
	assert.Equal(t, "No order with reference 99", out.Notice)
}

func TestHandleOverpaymentHitsDefaultArm(t *testing.T) {
	f := newFixture(t, payment.Record{OK: true, Status: payment.StatusSuccessful, Amount: 150})

	out := f.reconciler.Handle(context.Background(), signedParams("successful", reference))

	assert.Equal(t, callback.RedirectCheckout, out.Disposition)
	assert.Equal(t, cache.NoticeKindError, out.NoticeKind)
	assert.Contains(t, out.Notice, "could not be reconciled")
	assert.Equal(t, order.StatusPendingPayment, f.order(t).Status)
}

func TestHandleFetchFailureIsAnError(t *testing.T) {
	f := newFixture(t, payment.Record{OK: false, Message: "Bad Gateway"})

	out := f.reconciler.Handle(context.Background(), signedParams("successful", reference))

	assert.Equal(t, callback.RedirectCheckout, out.Disposition)
	assert.Equal(t, cache.NoticeKindError, out.NoticeKind)
	assert.Equal(t, order.StatusPendingPayment, f.order(t).Status)
}

func TestReceivedTextConsumesNoticeOnce(t *testing.T) {
	f := newFixture(t, payment.Record{OK: true, Status: payment.StatusPending})

	f.reconciler.Handle(context.Background(), signedParams("pending", reference))
	o := f.order(t)

	text := f.reconciler.ReceivedText(context.Background(), "Thank you. Your order has been received.", o)
	assert.Contains(t, text, "requires payment status verification")

	again := f.reconciler.ReceivedText(context.Background(), "Thank you. Your order has been received.", o)
	assert.Equal(t, "Thank you. Your order has been received.", again)
}

func TestReceivedTextPaidOrderKeepsDefault(t *testing.T) {
	f := newFixture(t, payment.Record{OK: true, Status: payment.StatusSuccessful, Amount: 100})

	f.reconciler.Handle(context.Background(), signedParams("successful", reference))
	o := f.order(t)
	require.True(t, o.Status.Paid())

	text := f.reconciler.ReceivedText(context.Background(), "Thank you.", o)
	assert.Equal(t, "Thank you.", text)
}

func TestReconcileOnHoldSettlesSettledOrders(t *testing.T) {
	f := newFixture(t, payment.Record{OK: true, Status: payment.StatusSuccessful, Amount: 100})
	require.NoError(t, f.orders.UpdateStatus(context.Background(), "55", order.StatusOnHold))
	require.NoError(t, f.orders.SetLastReference(context.Background(), "55", reference))

	require.NoError(t, f.reconciler.ReconcileOnHold(context.Background()))

	o := f.order(t)
	assert.True(t, o.Status.Paid())
	assert.Equal(t, reference, o.TransactionID)
}
