// Package pricing implements discount display and alert threshold rules.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/and161185/buyvia/internal/errs"
)

// MinDiscountPercent is the smallest drop worth showing as a discount badge.
var MinDiscountPercent = decimal.NewFromInt(4)

var hundred = decimal.NewFromInt(100)

// CalculateDiscount returns the percentage drop from old to current.
// ok is false when either price is not positive, old <= current, or the drop is below MinDiscountPercent.
func CalculateDiscount(current, old decimal.Decimal) (percent decimal.Decimal, ok bool) {
	if !current.IsPositive() || !old.IsPositive() || old.LessThanOrEqual(current) {
		return decimal.Zero, false
	}
	pct := old.Sub(current).Div(old).Mul(hundred)
	if pct.LessThan(MinDiscountPercent) {
		return decimal.Zero, false
	}
	return pct, true
}

// DiscountOf applies CalculateDiscount to nullable prices.
func DiscountOf(current, old decimal.NullDecimal) (decimal.Decimal, bool) {
	if !current.Valid || !old.Valid {
		return decimal.Zero, false
	}
	return CalculateDiscount(current.Decimal, old.Decimal)
}

// ValidateThreshold enforces 0 < threshold < current for new alerts.
func ValidateThreshold(threshold, current decimal.Decimal) error {
	if !threshold.IsPositive() {
		return errs.Invalid("threshold_price", "threshold too low")
	}
	if threshold.GreaterThanOrEqual(current) {
		return errs.Invalid("threshold_price", "threshold must be below current price")
	}
	return nil
}

// ValidateUpdate enforces threshold > 0 when editing an existing alert.
func ValidateUpdate(threshold decimal.Decimal) error {
	if !threshold.IsPositive() {
		return errs.Invalid("threshold_price", "threshold too low")
	}
	return nil
}
