package coupon

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestCalculate(t *testing.T) {
	tests := []struct {
		name   string
		coupon *Coupon
		amount decimal.Decimal
		want   decimal.Decimal
	}{
		{
			name:   "percentage without cap",
			coupon: &Coupon{DiscountType: DiscountPercentage, Value: d("10")},
			amount: d("250"),
			want:   d("25"),
		},
		{
			name:   "percentage clamped by max discount",
			coupon: &Coupon{DiscountType: DiscountPercentage, Value: d("10"), MaxDiscount: d("500")},
			amount: d("10000"),
			want:   d("500"),
		},
		{
			name:   "percentage below max discount is not clamped",
			coupon: &Coupon{DiscountType: DiscountPercentage, Value: d("20"), MaxDiscount: d("2000")},
			amount: d("5000"),
			want:   d("1000"),
		},
		{
			name:   "percentage rounds to cents",
			coupon: &Coupon{DiscountType: DiscountPercentage, Value: d("15")},
			amount: d("9.99"),
			want:   d("1.5"),
		},
		{
			name:   "fixed amount independent of amount",
			coupon: &Coupon{DiscountType: DiscountFixedAmount, Value: d("50")},
			amount: d("1234.56"),
			want:   d("50"),
		},
		{
			name:   "fixed amount clamped by max discount",
			coupon: &Coupon{DiscountType: DiscountFixedAmount, Value: d("50"), MaxDiscount: d("30")},
			amount: d("100"),
			want:   d("30"),
		},
		{
			name:   "fixed amount never exceeds purchase",
			coupon: &Coupon{DiscountType: DiscountFixedAmount, Value: d("50")},
			amount: d("20"),
			want:   d("20"),
		},
		{
			name:   "unknown type grants nothing",
			coupon: &Coupon{DiscountType: "bogo", Value: d("50")},
			amount: d("100"),
			want:   decimal.Zero,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Calculate(tt.coupon, tt.amount)
			assert.True(t, tt.want.Equal(got), "expected %s, got %s", tt.want, got)
		})
	}
}
