package callback

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/noah-isme/optty-gateway/internal/common"
)

// Params are the untrusted query parameters of an inbound callback.
type Params struct {
	Status    string
	Hash      string
	Reference string
}

// Signature computes the callback signature: the hex HMAC-SHA512 of
// "status|reference" under the shared hash secret. The aggregator strips
// literal dashes from the digest before sending, so we mirror that before
// comparison.
func Signature(secret, status, reference string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(status + "|" + reference))
	digest := hex.EncodeToString(mac.Sum(nil))
	return strings.ReplaceAll(digest, "-", "")
}

// Verifier authenticates inbound callbacks against the shared hash secret.
type Verifier struct {
	Secret string
}

// Verify rejects callbacks with missing parameters or a signature that does
// not match the expected digest. A mismatch is an explicit rejection; callers
// must not touch order state when an error is returned.
func (v Verifier) Verify(p Params) error {
	if p.Status == "" || p.Hash == "" || p.Reference == "" {
		return common.NewAppError(common.CodeValidation, "Invalid callback", http.StatusBadRequest, nil)
	}
	expected := Signature(v.Secret, p.Status, p.Reference)
	if subtleCompare(expected, p.Hash) {
		return nil
	}
	return common.NewAppError(common.CodeSignature, "Invalid callback", http.StatusUnauthorized, nil)
}

func subtleCompare(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}
