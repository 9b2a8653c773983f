package order

import (
	"crypto/rand"
	"encoding/base32"
	"time"
)

// numberEncoding is unpadded uppercase base32 without easily-confused
// characters, for human-readable order numbers.
var numberEncoding = base32.NewEncoding("ABCDEFGHJKLMNPQRSTUVWXYZ23456789").WithPadding(base32.NoPadding)

// NewNumber generates an order number of the form ORD-20260829-K7QX2M.
// The random suffix carries 30 bits, which together with the date prefix
// makes collisions rare; the unique constraint on the column catches the rest.
func NewNumber(now time.Time) string {
	var buf [4]byte
	_, _ = rand.Read(buf[:])
	suffix := numberEncoding.EncodeToString(buf[:])[:6]
	return "ORD-" + now.Format("20060102") + "-" + suffix
}
