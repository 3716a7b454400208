package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/optty-gateway/internal/obs"
	"github.com/noah-isme/optty-gateway/internal/order"
	"github.com/noah-isme/optty-gateway/internal/ref"
	"github.com/noah-isme/optty-gateway/internal/upstream"
)

// TokenSource provides bearer headers for authenticated merchant calls.
type TokenSource interface {
	BearerHeaders(ctx context.Context) (map[string]string, error)
}

// Result is the envelope every orchestrator boundary call resolves to.
// Transport and auth failures collapse into it; they never escape as errors.
type Result struct {
	OK         bool
	StatusCode int
	Data       json.RawMessage
	Message    string
}

// Record is the authoritative order state fetched back from the aggregator.
type Record struct {
	OK      bool
	Status  string
	Amount  float64
	Message string
}

// Service submits payment orders and looks up their authoritative status.
type Service struct {
	Auth       TokenSource
	HTTP       *upstream.Client
	APIURL     string
	HashSecret string
	Locale     string
	Validate   *validator.Validate
	Logger     zerolog.Logger
}

// BuildPayload constructs the order-creation payload for a checkout attempt.
// It opens a customer session for the widget handoff and mints a fresh order
// reference; a session failure degrades to an empty customer token.
func (s *Service) BuildPayload(ctx context.Context, o order.Order, selected string) Payload {
	token := s.CustomerSession(ctx)
	reference := ref.OrderReference(o.Number)
	return buildPayload(o, selected, s.Locale, token, reference)
}

// CustomerSession opens a widget customer session and returns its token.
// Failures are logged and reported as an empty token; the order submission
// itself decides whether that is acceptable.
func (s *Service) CustomerSession(ctx context.Context) string {
	headers, err := s.Auth.BearerHeaders(ctx)
	if err != nil {
		s.Logger.Error().Err(err).Msg("customer session auth failure")
		return ""
	}
	resp, err := s.HTTP.Post(ctx, s.APIURL+"/merchants/customer/sessions/", headers, upstream.BodyJSON, map[string]string{
		"customerIdentifier": s.HashSecret,
	})
	if err != nil {
		s.Logger.Error().Err(err).Msg("customer session transport failure")
		return ""
	}
	var parsed struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		s.Logger.Error().Err(err).Int("status_code", resp.StatusCode).Msg("customer session parse failure")
		return ""
	}
	return parsed.Token
}

// Submit posts the order to the aggregator. A 201 is the sole success
// signal; everything else, including transport and auth failures, is a
// declined submission.
func (s *Service) Submit(ctx context.Context, p Payload) Result {
	ctx, span := otel.Tracer("payment.Service").Start(ctx, "PaymentService.Submit")
	defer span.End()
	span.SetAttributes(
		attribute.String("payment.provider", p.BnplProvider),
		attribute.String("payment.reference", p.OrderReference),
	)

	start := time.Now()
	result := "error"
	defer func() {
		span.SetAttributes(
			attribute.Float64("payment.submit.duration_ms", obs.DurationMillis(time.Since(start))),
			attribute.String("payment.submit.result", result),
		)
		if obs.PaymentSubmitTotal != nil {
			obs.PaymentSubmitTotal.WithLabelValues(providerLabel(p.BnplProvider), result).Inc()
		}
	}()

	if s.Validate != nil {
		if err := s.Validate.Struct(p); err != nil {
			result = "invalid"
			s.Logger.Error().Err(err).Str("reference", p.OrderReference).Msg("payment payload rejected")
			return Result{OK: false, Message: err.Error()}
		}
	}

	headers, err := s.Auth.BearerHeaders(ctx)
	if err != nil {
		s.Logger.Error().Err(err).Msg("payment auth failure")
		return Result{OK: false, Message: err.Error()}
	}

	s.Logger.Info().Str("reference", p.OrderReference).Str("provider", p.BnplProvider).Msg("starting payment")
	resp, err := s.HTTP.Post(ctx, s.APIURL+"/orders/", headers, upstream.BodyJSON, p)
	if err != nil {
		span.RecordError(err)
		s.Logger.Error().Err(err).Str("reference", p.OrderReference).Msg("payment transport failure")
		return Result{OK: false, Message: err.Error()}
	}
	s.Logger.Debug().Int("status_code", resp.StatusCode).Str("body", string(resp.Body)).Msg("payment response")

	if resp.StatusCode == http.StatusCreated {
		result = "created"
	} else {
		result = "declined"
	}
	return Result{
		OK:         resp.StatusCode == http.StatusCreated,
		StatusCode: resp.StatusCode,
		Data:       resp.Body,
		Message:    resp.Message,
	}
}

// OrderStatus fetches the authoritative order record by reference. Failures
// collapse into Record.OK == false, matching Submit's boundary contract.
func (s *Service) OrderStatus(ctx context.Context, reference string) Record {
	headers, err := s.Auth.BearerHeaders(ctx)
	if err != nil {
		s.Logger.Error().Err(err).Str("reference", reference).Msg("order status auth failure")
		return Record{OK: false, Message: err.Error()}
	}
	resp, err := s.HTTP.Get(ctx, s.APIURL+"/orders/"+reference, headers, nil)
	if err != nil {
		s.Logger.Error().Err(err).Str("reference", reference).Msg("order status transport failure")
		return Record{OK: false, Message: err.Error()}
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return Record{OK: false, Message: resp.Message}
	}
	var parsed struct {
		Status string  `json:"status"`
		Amount float64 `json:"amount"`
	}
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		s.Logger.Error().Err(err).Str("reference", reference).Msg("order status parse failure")
		return Record{OK: false, Message: err.Error()}
	}
	return Record{
		OK:     true,
		Status: strings.ToLower(strings.TrimSpace(parsed.Status)),
		Amount: parsed.Amount,
	}
}

func providerLabel(value string) string {
	trimmed := strings.TrimSpace(strings.ToLower(ProviderTitle(value)))
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}

