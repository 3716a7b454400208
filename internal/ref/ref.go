package ref

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const alphanumeric = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// RandomChars returns n random characters drawn from [0-9A-Za-z].
func RandomChars(n int) string {
	if n <= 0 {
		return ""
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand read failures are not recoverable at this level.
		panic(fmt.Sprintf("ref: random source unavailable: %v", err))
	}
	for i, b := range buf {
		buf[i] = alphanumeric[int(b)%len(alphanumeric)]
	}
	return string(buf)
}

// OrderReference builds the reference submitted with a payment order:
// `<order-number>-<unix-time><4-char-random-suffix>`. The order number is
// recoverable by splitting on the first `-`, and references stay unique
// across rapid consecutive calls for the same order.
func OrderReference(orderNumber string) string {
	return fmt.Sprintf("%s-%d%s", orderNumber, time.Now().Unix(), RandomChars(4))
}

// OrderNumber recovers the local order number prefix of a reference.
func OrderNumber(reference string) string {
	return strings.SplitN(reference, "-", 2)[0]
}

// RefundReference returns an opaque alphanumeric refund identifier.
func RefundReference() string {
	id := uuid.NewString()
	return strings.ReplaceAll(id, "-", "")
}
