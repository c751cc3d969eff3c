package fetcher

import "github.com/shopspring/decimal"

var gramsPerTroyOunce = decimal.RequireFromString("31.1035")

// PriceDecimalPlaces is the precision of every converted price.
const PriceDecimalPlaces = 2

// OunceToGram converts a USD per troy ounce quote into local currency per gram,
// rounded half away from zero.
func OunceToGram(usdPerOunce, rate decimal.Decimal) decimal.Decimal {
	return usdPerOunce.Mul(rate).Div(gramsPerTroyOunce).Round(PriceDecimalPlaces)
}
