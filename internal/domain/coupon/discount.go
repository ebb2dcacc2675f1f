package coupon

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Calculate returns the discount the coupon grants on amount. It does not
// check eligibility.
//
// Percentage coupons take amount*value/100, fixed amount coupons take value.
// The result is clamped to MaxDiscount when set, never exceeds amount and is
// rounded to cents.
func Calculate(c *Coupon, amount decimal.Decimal) decimal.Decimal {
	var discount decimal.Decimal
	switch c.DiscountType {
	case DiscountPercentage:
		discount = amount.Mul(c.Value).Div(hundred)
	case DiscountFixedAmount:
		discount = c.Value
	default:
		return decimal.Zero
	}

	if c.MaxDiscount.IsPositive() && discount.GreaterThan(c.MaxDiscount) {
		discount = c.MaxDiscount
	}
	if discount.GreaterThan(amount) {
		discount = amount
	}
	if discount.IsNegative() {
		return decimal.Zero
	}
	return discount.Round(2)
}
