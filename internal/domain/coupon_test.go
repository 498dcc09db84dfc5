package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCouponEvaluate(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	past := now.Add(-24 * time.Hour)
	future := now.Add(24 * time.Hour)

	base := Coupon{Code: "TEST", Type: CouponTypePercent, Value: 10, IsActive: true}

	t.Run("percent", func(t *testing.T) {
		discount, err := base.Evaluate(100000, now)
		require.NoError(t, err)
		assert.Equal(t, int64(10000), discount)
	})

	t.Run("percent rounds half up", func(t *testing.T) {
		c := base
		c.Value = 3
		discount, err := c.Evaluate(1050, now) // 31.5 rounds to 32
		require.NoError(t, err)
		assert.Equal(t, int64(32), discount)
	})

	t.Run("percent clamped by max discount", func(t *testing.T) {
		c := base
		c.MaxDiscountCents = 5000
		discount, err := c.Evaluate(100000, now)
		require.NoError(t, err)
		assert.Equal(t, int64(5000), discount)
	})

	t.Run("fixed", func(t *testing.T) {
		c := Coupon{Code: "F", Type: CouponTypeFixed, Value: 7000, IsActive: true}
		discount, err := c.Evaluate(100000, now)
		require.NoError(t, err)
		assert.Equal(t, int64(7000), discount)
	})

	t.Run("fixed never exceeds cart total", func(t *testing.T) {
		c := Coupon{Code: "F", Type: CouponTypeFixed, Value: 7000, IsActive: true}
		discount, err := c.Evaluate(4000, now)
		require.NoError(t, err)
		assert.Equal(t, int64(4000), discount)
	})

	t.Run("inactive", func(t *testing.T) {
		c := base
		c.IsActive = false
		_, err := c.Evaluate(100000, now)
		assertCouponReason(t, err, CouponReasonInvalid)
	})

	t.Run("not yet valid", func(t *testing.T) {
		c := base
		c.ValidFrom = &future
		_, err := c.Evaluate(100000, now)
		assertCouponReason(t, err, CouponReasonNotYetValid)
	})

	t.Run("expired", func(t *testing.T) {
		c := base
		c.ValidTo = &past
		_, err := c.Evaluate(100000, now)
		assertCouponReason(t, err, CouponReasonExpired)
	})

	t.Run("usage exhausted", func(t *testing.T) {
		c := base
		c.UsageLimit = 3
		c.UsedCount = 3
		_, err := c.Evaluate(100000, now)
		assertCouponReason(t, err, CouponReasonUsageExhausted)
	})

	t.Run("zero usage limit means unlimited", func(t *testing.T) {
		c := base
		c.UsedCount = 1000000
		_, err := c.Evaluate(100000, now)
		require.NoError(t, err)
	})

	t.Run("cart total too low", func(t *testing.T) {
		c := base
		c.MinCartTotalCents = 50000
		_, err := c.Evaluate(49999, now)
		assertCouponReason(t, err, CouponReasonCartTotalTooLow)
	})

	t.Run("unknown type", func(t *testing.T) {
		c := base
		c.Type = "BOGOF"
		_, err := c.Evaluate(100000, now)
		assertCouponReason(t, err, CouponReasonInvalid)
	})
}

func assertCouponReason(t *testing.T, err error, reason string) {
	t.Helper()
	require.Error(t, err)
	var ce *CouponError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, reason, ce.Reason)
}

func TestNormalizeDefaultVariant(t *testing.T) {
	t.Run("first flagged wins", func(t *testing.T) {
		variants := []ProductVariant{
			{ID: "a"}, {ID: "b", IsDefault: true}, {ID: "c", IsDefault: true},
		}
		NormalizeDefaultVariant(variants)
		assert.False(t, variants[0].IsDefault)
		assert.True(t, variants[1].IsDefault)
		assert.False(t, variants[2].IsDefault)
	})

	t.Run("none flagged promotes first", func(t *testing.T) {
		variants := []ProductVariant{{ID: "a"}, {ID: "b"}}
		NormalizeDefaultVariant(variants)
		assert.True(t, variants[0].IsDefault)
		assert.False(t, variants[1].IsDefault)
	})
}

func TestLedgerSignedQty(t *testing.T) {
	in := LedgerEntry{Direction: LedgerDirectionIn, Qty: 4}
	out := LedgerEntry{Direction: LedgerDirectionOut, Qty: 4}
	assert.Equal(t, 4, in.SignedQty())
	assert.Equal(t, -4, out.SignedQty())
}
