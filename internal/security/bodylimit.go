package security

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/noah-isme/optty-gateway/internal/common"
)

// BodyLimit caps the payload size accepted on the gateway's POST surface.
type BodyLimit struct {
	Max int64
}

// Middleware rejects oversized payloads with 413 using the gateway's
// canonical error envelope.
func (b BodyLimit) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if b.Max <= 0 || r.Body == nil {
			next.ServeHTTP(w, r)
			return
		}

		if r.ContentLength > b.Max && r.ContentLength != -1 {
			common.JSONError(w, http.StatusRequestEntityTooLarge, common.CodeValidation, "request body too large", nil)
			return
		}

		limited := io.LimitReader(r.Body, b.Max+1)
		buf, err := io.ReadAll(limited)
		if err != nil && !errors.Is(err, io.EOF) {
			common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "unreadable request body", nil)
			return
		}
		if int64(len(buf)) > b.Max {
			common.JSONError(w, http.StatusRequestEntityTooLarge, common.CodeValidation, "request body too large", nil)
			return
		}

		_ = r.Body.Close()

		r.Body = io.NopCloser(bytes.NewReader(buf))
		r.ContentLength = int64(len(buf))
		next.ServeHTTP(w, r)
	})
}
