package refund

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/noah-isme/optty-gateway/internal/obs"
	"github.com/noah-isme/optty-gateway/internal/payment"
	"github.com/noah-isme/optty-gateway/internal/upstream"
)

// Payload describes a single refund submission.
type Payload struct {
	Amount          float64
	Currency        string
	OrderReference  string
	RefundReference string
	Description     string
}

// Data is the upstream confirmation of an approved refund.
type Data struct {
	RefundReference string  `json:"refundReference"`
	RefundedAmount  float64 `json:"refundedAmount"`
}

// Result reports the refund outcome. OK is true only for a 201 response;
// any other code carries the raw upstream message through unchanged.
type Result struct {
	OK         bool
	StatusCode int
	Data       Data
	Message    string
}

// Service submits refund requests to the aggregator.
type Service struct {
	Auth   payment.TokenSource
	HTTP   *upstream.Client
	APIURL string
	Logger zerolog.Logger
}

type wirePayload struct {
	RefundAmount struct {
		Amount   float64 `json:"amount"`
		Currency string  `json:"currency"`
	} `json:"refundAmount"`
	RefundDescription string `json:"refundDescription"`
	RefundReference   string `json:"refundReference"`
}

// Process submits the refund. Transport and auth failures collapse into a
// failed Result, mirroring the payment boundary contract.
func (s *Service) Process(ctx context.Context, p Payload) Result {
	s.Logger.Info().Str("order_reference", p.OrderReference).Float64("amount", p.Amount).Msg("starting refund")

	result := "error"
	defer func() {
		if obs.RefundTotal != nil {
			obs.RefundTotal.WithLabelValues(result).Inc()
		}
	}()

	headers, err := s.Auth.BearerHeaders(ctx)
	if err != nil {
		s.Logger.Error().Err(err).Msg("refund auth failure")
		return Result{OK: false, Message: err.Error()}
	}

	var body wirePayload
	body.RefundAmount.Amount = p.Amount
	body.RefundAmount.Currency = p.Currency
	body.RefundDescription = p.Description
	body.RefundReference = p.RefundReference

	resp, err := s.HTTP.Post(ctx, s.APIURL+"/orders/"+p.OrderReference+"/refund", headers, upstream.BodyJSON, body)
	if err != nil {
		s.Logger.Error().Err(err).Str("order_reference", p.OrderReference).Msg("refund transport failure")
		return Result{OK: false, Message: err.Error()}
	}
	s.Logger.Debug().Int("status_code", resp.StatusCode).Str("body", string(resp.Body)).Msg("refund response")

	out := Result{
		OK:         resp.StatusCode == http.StatusCreated,
		StatusCode: resp.StatusCode,
		Message:    resp.Message,
	}
	if out.OK {
		result = "approved"
		if err := json.Unmarshal(resp.Body, &out.Data); err != nil {
			s.Logger.Warn().Err(err).Msg("refund confirmation parse failure")
		}
	} else {
		result = "rejected"
	}
	return out
}
