package api

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// decodeMoney parses a JSON number as fixed-point decimal from its literal
// text. Money never round-trips through float64.
func decodeMoney(n json.Number) (decimal.Decimal, error) {
	return decimal.NewFromString(n.String())
}
