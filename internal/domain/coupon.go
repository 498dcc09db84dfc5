package domain

import (
	"errors"
	"math"
	"time"
)

const (
	CouponReasonInvalid         = "invalid"
	CouponReasonNotYetValid     = "not active yet"
	CouponReasonExpired         = "expired"
	CouponReasonUsageExhausted  = "usage limit reached"
	CouponReasonCartTotalTooLow = "cart total too low"
)

// CouponError reports why a coupon could not be applied. Checkout treats any
// coupon failure as fatal for the whole order.
type CouponError struct {
	Code   string
	Reason string
}

func (e *CouponError) Error() string {
	if e.Code == "" {
		return "coupon " + e.Reason
	}
	return "coupon " + e.Code + " " + e.Reason
}

func NewCouponError(code string, reason string) *CouponError {
	return &CouponError{Code: code, Reason: reason}
}

// IsCouponError reports whether err is (or wraps) a CouponError.
func IsCouponError(err error) bool {
	var ce *CouponError
	return errors.As(err, &ce)
}

// Evaluate validates the coupon against a cart total at the given instant
// and returns the discount it grants. Checks run in order and short-circuit
// on the first failure: active, time window, usage limit, minimum cart
// total. The returned discount never exceeds cartTotalCents.
func (c Coupon) Evaluate(cartTotalCents int64, now time.Time) (int64, error) {
	if !c.IsActive {
		return 0, NewCouponError(c.Code, CouponReasonInvalid)
	}
	if c.ValidFrom != nil && now.Before(*c.ValidFrom) {
		return 0, NewCouponError(c.Code, CouponReasonNotYetValid)
	}
	if c.ValidTo != nil && now.After(*c.ValidTo) {
		return 0, NewCouponError(c.Code, CouponReasonExpired)
	}
	if c.UsageLimit > 0 && c.UsedCount >= c.UsageLimit {
		return 0, NewCouponError(c.Code, CouponReasonUsageExhausted)
	}
	if cartTotalCents < c.MinCartTotalCents {
		return 0, NewCouponError(c.Code, CouponReasonCartTotalTooLow)
	}

	var discount int64
	switch c.Type {
	case CouponTypePercent:
		discount = int64(math.Round(float64(cartTotalCents) * float64(c.Value) / 100))
		if c.MaxDiscountCents > 0 && discount > c.MaxDiscountCents {
			discount = c.MaxDiscountCents
		}
	case CouponTypeFixed:
		discount = c.Value
	default:
		return 0, NewCouponError(c.Code, CouponReasonInvalid)
	}

	if discount > cartTotalCents {
		discount = cartTotalCents
	}
	if discount < 0 {
		discount = 0
	}
	return discount, nil
}
