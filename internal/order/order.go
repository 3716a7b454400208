package order

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no order matches the lookup.
var ErrNotFound = errors.New("order: not found")

// Status values of a local order.
type Status string

const (
	StatusPendingPayment Status = "pending-payment"
	StatusProcessing     Status = "processing"
	StatusCompleted      Status = "completed"
	StatusOnHold         Status = "on-hold"
	StatusFailed         Status = "failed"
	StatusRefunded       Status = "refunded"
)

// Paid reports whether payment has been recorded for the status.
func (s Status) Paid() bool {
	return s == StatusProcessing || s == StatusCompleted
}

// Address is a billing or shipping address as submitted to the aggregator.
type Address struct {
	FirstName      string `json:"firstName"`
	LastName       string `json:"lastName"`
	Email          string `json:"email"`
	PhoneNumber    string `json:"phoneNumber"`
	StreetAddress  string `json:"streetAddress"`
	StreetAddress2 string `json:"streetAddress2"`
	City           string `json:"city"`
	State          string `json:"state"`
	Country        string `json:"country"`
	Region         string `json:"region"`
	PostalCode     string `json:"postalCode"`
}

// Customer identifies the buyer.
type Customer struct {
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phoneNumber"`
}

// Item is a single order line.
type Item struct {
	Name             string
	SKU              string
	Quantity         float64
	UnitPrice        float64
	Subtotal         float64
	RequiresShipping bool
}

// Order is the local order record the gateway reconciles against.
type Order struct {
	ID            string
	Number        string
	Key           string
	Status        Status
	Currency      string
	Total         float64
	TaxTotal      float64
	ShippingTotal float64
	DiscountTotal float64
	TransactionID string
	// LastReference is the most recent order reference submitted upstream.
	LastReference string
	RefundedTotal float64
	PaymentMethod string
	Customer      Customer
	Billing       Address
	Shipping      Address
	Items         []Item
}

// AllVirtual reports whether no line item needs shipping.
func (o Order) AllVirtual() bool {
	for _, item := range o.Items {
		if item.RequiresShipping {
			return false
		}
	}
	return true
}

// Note is an order annotation; customer-facing notes are shown to the buyer.
type Note struct {
	Text           string
	CustomerFacing bool
}

// Store persists orders. It is the gateway's view of the shop's order
// system; the reconciler mutates state exclusively through it.
type Store interface {
	Get(ctx context.Context, id string) (Order, error)
	GetByNumber(ctx context.Context, number string) (Order, error)
	UpdateStatus(ctx context.Context, id string, status Status) error
	AddNote(ctx context.Context, id string, text string, customerFacing bool) error
	// PaymentComplete records the transaction id and moves the order to
	// processing, or straight to completed when nothing needs shipping.
	PaymentComplete(ctx context.Context, id string, transactionID string) error
	SetPaymentMethod(ctx context.Context, id string, title string) error
	SetLastReference(ctx context.Context, id string, reference string) error
	// AddRefund records an approved refund and returns the accumulated
	// refunded total.
	AddRefund(ctx context.Context, id string, amount float64, reference string) (float64, error)
	// ListOnHold returns orders awaiting payment verification.
	ListOnHold(ctx context.Context) ([]Order, error)
}
