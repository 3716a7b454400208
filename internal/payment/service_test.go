package payment_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	validator "github.com/go-playground/validator/v10"

	"github.com/noah-isme/optty-gateway/internal/payment"
	"github.com/noah-isme/optty-gateway/internal/upstream"
)

type staticTokens struct{}

func (staticTokens) BearerHeaders(context.Context) (map[string]string, error) {
	return map[string]string{
		"Authorization": "Bearer test-token",
		"Content-Type":  "application/json",
	}, nil
}

func newService(t *testing.T, handler http.HandlerFunc) (*payment.Service, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &payment.Service{
		Auth:       staticTokens{},
		HTTP:       upstream.NewClient(time.Second),
		APIURL:     srv.URL,
		HashSecret: "hash-secret",
		Locale:     "en_AU",
		Validate:   validator.New(),
	}, srv
}

func validPayload() payment.Payload {
	return payment.Payload{
		BnplProvider:     "afterpay_AU",
		Locale:           "en_AU",
		OrderReference:   "55-1700000000AB12",
		OrderAmount:      100,
		OrderItems:       []payment.PayloadItem{{Name: "Widget", Quantity: 1, UnitPrice: 100, TotalAmount: 100}},
		PurchaseCountry:  "AU",
		PurchaseCurrency: "AUD",
	}
}

func TestSubmitSuccessRequires201(t *testing.T) {
	var gotAuth string
	svc, _ := newService(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"redirectUrl":"https://widgets.optty.com/redirect/abc"}`))
	})

	res := svc.Submit(context.Background(), validPayload())
	if !res.OK || res.StatusCode != http.StatusCreated {
		t.Fatalf("expected OK result, got %+v", res)
	}
	if gotAuth != "Bearer test-token" {
		t.Fatalf("missing bearer header: %q", gotAuth)
	}
	var data struct {
		RedirectURL string `json:"redirectUrl"`
	}
	if err := json.Unmarshal(res.Data, &data); err != nil || data.RedirectURL == "" {
		t.Fatalf("redirect url not propagated: %v %+v", err, data)
	}
}

func TestSubmitNon201IsDeclined(t *testing.T) {
	svc, _ := newService(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	})
	res := svc.Submit(context.Background(), validPayload())
	if res.OK {
		t.Fatalf("200 must not be treated as success: %+v", res)
	}
}

func TestSubmitTransportFailureCollapsesToResult(t *testing.T) {
	svc, srv := newService(t, func(w http.ResponseWriter, r *http.Request) {})
	srv.Close()

	res := svc.Submit(context.Background(), validPayload())
	if res.OK {
		t.Fatal("expected failed result")
	}
	if res.Message == "" {
		t.Fatal("expected failure message")
	}
}

func TestSubmitValidatesBeforeNetwork(t *testing.T) {
	calls := 0
	svc, _ := newService(t, func(w http.ResponseWriter, r *http.Request) { calls++ })
	p := validPayload()
	p.PurchaseCurrency = "AUDX"
	res := svc.Submit(context.Background(), p)
	if res.OK {
		t.Fatal("invalid payload must not succeed")
	}
	if calls != 0 {
		t.Fatalf("validation failures must not reach the network, calls=%d", calls)
	}
}

func TestOrderStatusLowercasesExternalStatus(t *testing.T) {
	svc, _ := newService(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/orders/55-1700000000AB12" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"status":"SUCCESSFUL","amount":100}`))
	})
	rec := svc.OrderStatus(context.Background(), "55-1700000000AB12")
	if !rec.OK || rec.Status != payment.StatusSuccessful || rec.Amount != 100 {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestOrderStatusFailureReturnsFailedRecord(t *testing.T) {
	svc, _ := newService(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	rec := svc.OrderStatus(context.Background(), "missing-ref")
	if rec.OK {
		t.Fatalf("expected failed record, got %+v", rec)
	}
}

func TestCustomerSessionDegradesToEmptyToken(t *testing.T) {
	svc, srv := newService(t, func(w http.ResponseWriter, r *http.Request) {})
	srv.Close()
	if token := svc.CustomerSession(context.Background()); token != "" {
		t.Fatalf("expected empty token on failure, got %q", token)
	}
}

func TestCustomerSessionReturnsToken(t *testing.T) {
	var gotBody map[string]string
	svc, _ := newService(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/merchants/customer/sessions/" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"token":"cust-tok"}`))
	})
	if token := svc.CustomerSession(context.Background()); token != "cust-tok" {
		t.Fatalf("unexpected token: %q", token)
	}
	if gotBody["customerIdentifier"] != "hash-secret" {
		t.Fatalf("customer identifier not sent: %v", gotBody)
	}
}
