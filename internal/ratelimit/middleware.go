package ratelimit

import (
	"net/http"

	limiter "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"
)

// Middleware builds a rate-limiting middleware for a public route. rate is
// ulule's formatted notation, e.g. "60-M" for sixty requests per minute.
// Callbacks arrive from the aggregator's infrastructure, so the client key
// is the remote IP and forward headers are not trusted.
func Middleware(store limiter.Store, rate string) (func(http.Handler) http.Handler, error) {
	parsed, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return nil, err
	}
	l := limiter.New(store, parsed)
	mw := stdlib.NewMiddleware(l)
	return mw.Handler, nil
}
