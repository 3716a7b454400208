package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/optty-gateway/internal/cache"
	"github.com/noah-isme/optty-gateway/internal/common"
	"github.com/noah-isme/optty-gateway/internal/obs"
	"github.com/noah-isme/optty-gateway/internal/upstream"
)

// TokenCacheKey is the fixed cache key holding the merchant access token.
const TokenCacheKey = "optty:merchant_token"

// DefaultScope is the scope requested for merchant API calls.
const DefaultScope = "api-user"

// tokenSafetyMargin is subtracted from the upstream expiry so a cached token
// is never served past its nominal lifetime.
const tokenSafetyMargin = 600 * time.Second

// Token is a parsed client-credentials exchange result.
type Token struct {
	Value     string
	ExpiresIn int
	TokenType string
	Scope     string
}

// Authenticator obtains and caches merchant access tokens.
type Authenticator struct {
	Cache        cache.Cache
	HTTP         *upstream.Client
	AuthURL      string
	ClientID     string
	ClientSecret string
	Logger       zerolog.Logger
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
	Scope       string `json:"scope"`
	Message     string `json:"message"`
}

// RequestAccessToken returns a merchant token, preferring the cached one
// unless forceNetwork is set. On a miss any stale cache entry is dropped
// before the client-credentials exchange.
func (a *Authenticator) RequestAccessToken(ctx context.Context, scope string, forceNetwork bool) (Token, error) {
	if scope == "" {
		scope = DefaultScope
	}
	if !forceNetwork {
		var cached string
		found, err := a.Cache.Get(ctx, TokenCacheKey, &cached)
		if err != nil {
			a.Logger.Warn().Err(err).Msg("token cache lookup failed")
		}
		if found && cached != "" {
			return Token{Value: cached}, nil
		}
	}
	if err := a.Cache.Delete(ctx, TokenCacheKey); err != nil {
		a.Logger.Warn().Err(err).Msg("token cache delete failed")
	}

	resp, err := a.HTTP.Post(ctx, a.AuthURL, nil, upstream.BodyForm, map[string]string{
		"client_id":     a.ClientID,
		"client_secret": a.ClientSecret,
		"grant_type":    "client_credentials",
		"response_type": "token",
		"scope":         scope,
	})
	if err != nil {
		a.countToken("network_error")
		a.Logger.Error().Err(err).Str("auth_url", a.AuthURL).Msg("token exchange transport failure")
		return Token{}, common.NewAppError(common.CodeNetwork, "Please confirm merchant credentials and try again", http.StatusBadGateway, err)
	}

	token, parseErr := parseTokenResponse(resp.Body)
	if parseErr != nil {
		a.countToken("rejected")
		a.Logger.Error().Err(parseErr).Int("status_code", resp.StatusCode).Str("body", string(resp.Body)).Msg("token exchange rejected")
		return Token{}, common.NewAppError(common.CodeAuthentication, "Please confirm merchant credentials and try again", http.StatusUnauthorized, parseErr)
	}

	ttl := time.Duration(token.ExpiresIn)*time.Second - tokenSafetyMargin
	// expires_in at or below the safety margin yields a non-positive TTL;
	// such tokens are returned but never cached.
	if err := a.Cache.Set(ctx, TokenCacheKey, token.Value, ttl); err != nil {
		a.Logger.Warn().Err(err).Msg("token cache store failed")
	}
	a.countToken("ok")
	return token, nil
}

// GetAccessToken is the cache-first convenience wrapper used by API calls.
// On a miss it performs a network exchange.
func (a *Authenticator) GetAccessToken(ctx context.Context) (string, error) {
	var cached string
	found, err := a.Cache.Get(ctx, TokenCacheKey, &cached)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("token cache lookup failed")
	}
	if found && cached != "" {
		return cached, nil
	}
	token, err := a.RequestAccessToken(ctx, DefaultScope, false)
	if err != nil {
		return "", err
	}
	return token.Value, nil
}

// BearerHeaders returns the headers carried by authenticated merchant calls.
func (a *Authenticator) BearerHeaders(ctx context.Context) (map[string]string, error) {
	token, err := a.GetAccessToken(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"Authorization": "Bearer " + token,
		"Content-Type":  "application/json",
	}, nil
}

func parseTokenResponse(body []byte) (Token, error) {
	var parsed tokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Token{}, errUnparsable
	}
	if parsed.Message != "" {
		return Token{}, &exchangeError{message: parsed.Message}
	}
	if parsed.AccessToken == "" {
		return Token{}, errNoAccessToken
	}
	return Token{
		Value:     parsed.AccessToken,
		ExpiresIn: parsed.ExpiresIn,
		TokenType: parsed.TokenType,
		Scope:     parsed.Scope,
	}, nil
}

func (a *Authenticator) countToken(result string) {
	if obs.TokenRequestTotal != nil {
		obs.TokenRequestTotal.WithLabelValues(result).Inc()
	}
}
