// Package allocation divides a total amount into per-party shares.
package allocation

import (
	"fmt"

	"github.com/shopspring/decimal"

	dErrors "splitpay/pkg/domain-errors"
)

// Policy computes per-party amounts in minor units. Results are in the same
// order as weights and never exceed total in sum.
type Policy interface {
	Allocate(total int64, weights []decimal.Decimal) ([]int64, error)
}

var (
	hundred = decimal.NewFromInt(100)

	// Tolerance is how far the percentage sum may drift from 100.
	Tolerance = decimal.RequireFromString("0.01")
)

// Percentage floors total*weight/100 per party. Any remainder is left
// unallocated.
type Percentage struct{}

// Allocate validates the percentages and computes each floored share.
func (Percentage) Allocate(total int64, weights []decimal.Decimal) ([]int64, error) {
	if err := validateTotal(total); err != nil {
		return nil, err
	}
	if err := ValidatePercentages(weights); err != nil {
		return nil, err
	}
	t := decimal.NewFromInt(total)
	out := make([]int64, len(weights))
	for i, w := range weights {
		// Shift(-2) divides by 100 exactly, unlike Div.
		out[i] = t.Mul(w).Shift(-2).Floor().IntPart()
	}
	return out, nil
}

// ValidatePercentages checks every percentage is in (0, 100] and the sum is
// within Tolerance of 100.
func ValidatePercentages(weights []decimal.Decimal) error {
	if len(weights) == 0 {
		return dErrors.New(dErrors.CodeValidation, "at least one recipient is required")
	}
	sum := decimal.Zero
	for i, w := range weights {
		if !w.IsPositive() || w.GreaterThan(hundred) {
			return dErrors.New(dErrors.CodeValidation,
				fmt.Sprintf("recipients[%d].percentage must be greater than 0 and at most 100", i))
		}
		sum = sum.Add(w)
	}
	if sum.Sub(hundred).Abs().GreaterThan(Tolerance) {
		return dErrors.New(dErrors.CodeValidation,
			fmt.Sprintf("recipient percentages must sum to 100, got %s", sum.String()))
	}
	return nil
}

// Even splits total equally across len(weights) parties. The weight values
// are ignored. The first total mod k parties receive one extra minor unit, so
// the shares always sum to total.
type Even struct{}

// Allocate computes the even split.
func (Even) Allocate(total int64, weights []decimal.Decimal) ([]int64, error) {
	if err := validateTotal(total); err != nil {
		return nil, err
	}
	k := int64(len(weights))
	if k == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "at least one party is required")
	}
	base, rem := total/k, total%k
	out := make([]int64, k)
	for i := range out {
		out[i] = base
		if int64(i) < rem {
			out[i]++
		}
	}
	return out, nil
}

// Parties returns k zero weights, for policies that only use the count.
func Parties(k int) []decimal.Decimal {
	return make([]decimal.Decimal, k)
}

func validateTotal(total int64) error {
	if total <= 0 {
		return dErrors.New(dErrors.CodeValidation, "total amount must be a positive integer in minor units")
	}
	return nil
}
