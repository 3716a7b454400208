package payment

import (
	"strings"

	"github.com/noah-isme/optty-gateway/internal/order"
)

// External order statuses reported by the aggregator.
const (
	StatusSuccessful = "successful"
	StatusFailed     = "failed"
	StatusDeclined   = "declined"
	StatusCanceled   = "canceled"
	StatusPending    = "pending"
)

// Lineitem errors surface upstream as validation rejections, so quantity and
// amounts are kept exactly as the store records them: unitPrice * quantity
// must equal totalAmount, which is the pre-discount subtotal.
type PayloadItem struct {
	Name        string  `json:"name" validate:"required"`
	Quantity    float64 `json:"quantity" validate:"gt=0"`
	SKU         string  `json:"sku"`
	UnitPrice   float64 `json:"unitPrice" validate:"gte=0"`
	TotalAmount float64 `json:"totalAmount" validate:"gte=0"`
}

// Payload is an order-creation request, constructed once per checkout attempt.
type Payload struct {
	BnplProvider     string         `json:"bnplProvider" validate:"required"`
	Locale           string         `json:"locale"`
	CustomerToken    string         `json:"customerToken"`
	OrderReference   string         `json:"orderReference" validate:"required"`
	OrderAmount      float64        `json:"orderAmount" validate:"gte=0"`
	TaxAmount        float64        `json:"taxAmount" validate:"gte=0"`
	ShippingAmount   float64        `json:"shippingAmount" validate:"gte=0"`
	DiscountAmount   float64        `json:"discountAmount" validate:"gte=0"`
	OrderItems       []PayloadItem  `json:"orderItems" validate:"min=1,dive"`
	PurchaseCountry  string         `json:"purchaseCountry" validate:"required,len=2"`
	PurchaseCurrency string         `json:"purchaseCurrency" validate:"required,len=3"`
	Customer         order.Customer `json:"customer"`
	BillingAddress   order.Address  `json:"billingAddress"`
	ShippingAddress  order.Address  `json:"shippingAddress"`
}

// ProviderTitle derives the buyer-visible payment method title from the
// selected provider identifier, e.g. "afterpay_AU" becomes "afterpay".
func ProviderTitle(selected string) string {
	return strings.SplitN(selected, "_", 2)[0]
}

// buildPayload assembles the order-creation payload. When every line item is
// virtual the billing address doubles as the shipping address.
func buildPayload(o order.Order, selected, locale, customerToken, reference string) Payload {
	items := make([]PayloadItem, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, PayloadItem{
			Name:        it.Name,
			Quantity:    it.Quantity,
			SKU:         it.SKU,
			UnitPrice:   it.UnitPrice,
			TotalAmount: it.Subtotal,
		})
	}

	shipping := o.Shipping
	if o.AllVirtual() {
		shipping = o.Billing
	} else {
		// contact details always come from billing
		shipping.Email = o.Billing.Email
		shipping.PhoneNumber = o.Billing.PhoneNumber
	}

	return Payload{
		BnplProvider:     selected,
		Locale:           locale,
		CustomerToken:    customerToken,
		OrderReference:   reference,
		OrderAmount:      o.Total,
		TaxAmount:        o.TaxTotal,
		ShippingAmount:   o.ShippingTotal,
		DiscountAmount:   o.DiscountTotal,
		OrderItems:       items,
		PurchaseCountry:  o.Billing.Country,
		PurchaseCurrency: o.Currency,
		Customer:         o.Customer,
		BillingAddress:   o.Billing,
		ShippingAddress:  shipping,
	}
}
