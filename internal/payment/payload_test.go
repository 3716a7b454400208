package payment

import (
	"testing"

	validator "github.com/go-playground/validator/v10"

	"github.com/noah-isme/optty-gateway/internal/order"
)

func sampleOrder() order.Order {
	return order.Order{
		ID:            "55",
		Number:        "55",
		Key:           "wc_order_k3y",
		Status:        order.StatusPendingPayment,
		Currency:      "AUD",
		Total:         100,
		TaxTotal:      9.09,
		ShippingTotal: 10,
		DiscountTotal: 5,
		Customer: order.Customer{
			FirstName: "Ada", LastName: "Merchant", Email: "ada@example.com", PhoneNumber: "+61400000000",
		},
		Billing: order.Address{
			FirstName: "Ada", LastName: "Merchant", Email: "ada@example.com", PhoneNumber: "+61400000000",
			StreetAddress: "1 Billing St", City: "Sydney", State: "NSW", Country: "AU", Region: "NSW", PostalCode: "2000",
		},
		Shipping: order.Address{
			FirstName: "Ada", LastName: "Merchant",
			StreetAddress: "9 Shipping Rd", City: "Melbourne", State: "VIC", Country: "AU", Region: "VIC", PostalCode: "3000",
		},
		Items: []order.Item{
			{Name: "Widget", SKU: "W-1", Quantity: 2, UnitPrice: 45, Subtotal: 90, RequiresShipping: true},
			{Name: "License", SKU: "L-1", Quantity: 1, UnitPrice: 10, Subtotal: 10, RequiresShipping: false},
		},
	}
}

func TestBuildPayloadMapsOrderFields(t *testing.T) {
	o := sampleOrder()
	p := buildPayload(o, "afterpay_AU", "en_AU", "cust-tok", "55-1700000000AB12")

	if p.BnplProvider != "afterpay_AU" {
		t.Fatalf("provider: %s", p.BnplProvider)
	}
	if p.OrderReference != "55-1700000000AB12" {
		t.Fatalf("reference: %s", p.OrderReference)
	}
	if p.OrderAmount != 100 || p.TaxAmount != 9.09 || p.ShippingAmount != 10 || p.DiscountAmount != 5 {
		t.Fatalf("amounts not mapped: %+v", p)
	}
	if p.PurchaseCountry != "AU" || p.PurchaseCurrency != "AUD" {
		t.Fatalf("country/currency: %s/%s", p.PurchaseCountry, p.PurchaseCurrency)
	}
	if len(p.OrderItems) != 2 {
		t.Fatalf("items: %d", len(p.OrderItems))
	}
	// totalAmount is the pre-discount subtotal
	if p.OrderItems[0].TotalAmount != 90 || p.OrderItems[0].UnitPrice != 45 {
		t.Fatalf("item amounts: %+v", p.OrderItems[0])
	}
	if p.ShippingAddress.StreetAddress != "9 Shipping Rd" {
		t.Fatalf("shipping address: %+v", p.ShippingAddress)
	}
	if p.ShippingAddress.Email != o.Billing.Email || p.ShippingAddress.PhoneNumber != o.Billing.PhoneNumber {
		t.Fatal("shipping contact details must come from billing")
	}
}

func TestBuildPayloadAllVirtualUsesBillingAddress(t *testing.T) {
	o := sampleOrder()
	for i := range o.Items {
		o.Items[i].RequiresShipping = false
	}
	p := buildPayload(o, "zip_AU", "en_AU", "", "55-1700000000AB12")
	if p.ShippingAddress != o.Billing {
		t.Fatalf("expected billing address as shipping address, got %+v", p.ShippingAddress)
	}
}

func TestProviderTitle(t *testing.T) {
	cases := map[string]string{
		"afterpay_AU": "afterpay",
		"zip":         "zip",
		"klarna_DE_1": "klarna",
	}
	for in, want := range cases {
		if got := ProviderTitle(in); got != want {
			t.Fatalf("ProviderTitle(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPayloadValidation(t *testing.T) {
	v := validator.New()
	o := sampleOrder()
	p := buildPayload(o, "afterpay_AU", "en_AU", "", "55-1700000000AB12")
	if err := v.Struct(p); err != nil {
		t.Fatalf("valid payload rejected: %v", err)
	}

	p.PurchaseCountry = ""
	if err := v.Struct(p); err == nil {
		t.Fatal("missing purchase country must be rejected")
	}

	p = buildPayload(o, "afterpay_AU", "en_AU", "", "55-1700000000AB12")
	p.OrderItems = nil
	if err := v.Struct(p); err == nil {
		t.Fatal("empty order items must be rejected")
	}
}
