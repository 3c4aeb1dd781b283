package sheet

import "github.com/shopspring/decimal"

// FormatDecimal renders v without rounding. Nil renders as an empty cell.
func FormatDecimal(v *float64) string {
	if v == nil {
		return ""
	}
	return decimal.NewFromFloat(*v).String()
}

// FormatFloat renders v rounded to places decimal digits, trailing zeros trimmed.
func FormatFloat(v *float64, places int32) string {
	if v == nil {
		return ""
	}
	return decimal.NewFromFloat(*v).Round(places).String()
}

// FormatInt renders v. Nil renders as an empty cell.
func FormatInt(v *int) string {
	if v == nil {
		return ""
	}
	return decimal.NewFromInt(int64(*v)).String()
}

// Round rounds v half away from zero to places decimal digits.
func Round(v float64, places int32) float64 {
	f, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return f
}
