package orderno

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

const prefix = "SPL"

// New builds a human-readable order number, SPL-YYYYMMDD-NNNN. The 4-digit
// suffix is low entropy, so callers must handle same-day collisions by
// regenerating on a unique-key conflict.
func New(now time.Time) string {
	n, err := rand.Int(rand.Reader, big.NewInt(9000))
	suffix := int64(0)
	if err == nil {
		suffix = n.Int64()
	}
	return fmt.Sprintf("%s-%s-%04d", prefix, now.UTC().Format("20060102"), 1000+suffix)
}
