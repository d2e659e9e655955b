package hyperliquid

import (
	"errors"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Perp prices allow at most 6-szDecimals decimal places.
const maxPriceDecimals = 6

// priceToWire rounds a price to 5 significant figures, caps the decimal
// places at 6-szDecimals and renders it the way the exchange expects.
func priceToWire(price decimal.Decimal, szDecimals int) (string, error) {
	if price.Sign() <= 0 {
		return "", errors.New("price must be > 0")
	}
	f, _ := price.Float64()
	sig, err := decimal.NewFromString(strconv.FormatFloat(f, 'g', 5, 64))
	if err != nil {
		return "", err
	}
	places := maxPriceDecimals - szDecimals
	if places < 0 {
		places = 0
	}
	return decimalToWire(sig.Round(int32(places))), nil
}

// sizeToWire renders an order size already truncated to the lot step.
func sizeToWire(size decimal.Decimal, szDecimals int) (string, error) {
	if size.Sign() <= 0 {
		return "", errors.New("size must be > 0")
	}
	truncated := size.Truncate(int32(szDecimals))
	if truncated.IsZero() {
		return "", errors.New("size rounds to zero at asset precision")
	}
	return decimalToWire(truncated), nil
}

func decimalToWire(d decimal.Decimal) string {
	s := d.String()
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimRight(s, ".")
	}
	if s == "" || s == "-0" {
		s = "0"
	}
	return s
}
