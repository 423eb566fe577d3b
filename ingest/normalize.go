/*
normalize.go - Remote numeric normalization.

MoySklad serializes quantities as floats (occasionally strings through
intermediaries) and prices in minor currency units. Locally both are
integers: quantities truncated, prices divided by 100. decimal keeps the
division exact; float math would drift on large kopeck sums.
*/
package ingest

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

var minorUnits = decimal.NewFromInt(100)

// toQuantity converts a remote quantity (number or numeric string) to an
// integer count. Unparseable values become 0.
func toQuantity(n json.Number) int64 {
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return 0
	}
	return d.IntPart()
}

// toPrice converts a minor-unit price to whole currency units, truncating.
func toPrice(n json.Number) int64 {
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return 0
	}
	return d.Div(minorUnits).IntPart()
}
