package hyperliquid

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// orderFill is the per-order outcome extracted from an /exchange response.
type orderFill struct {
	Size  decimal.Decimal
	Price decimal.Decimal
}

// parseOrderResponse walks the response of a single-order action. An IOC
// order either fills immediately or is rejected, so anything other than a
// filled status is an error.
func parseOrderResponse(resp map[string]any) (orderFill, error) {
	if status, _ := resp["status"].(string); status != "ok" {
		return orderFill{}, fmt.Errorf("exchange status %q: %v", status, resp["response"])
	}
	response, _ := resp["response"].(map[string]any)
	data, _ := response["data"].(map[string]any)
	statuses, _ := data["statuses"].([]any)
	if len(statuses) == 0 {
		return orderFill{}, errors.New("exchange response has no statuses")
	}
	entry, _ := statuses[0].(map[string]any)
	if msg, ok := entry["error"].(string); ok {
		return orderFill{}, fmt.Errorf("order rejected: %s", msg)
	}
	filled, ok := entry["filled"].(map[string]any)
	if !ok {
		return orderFill{}, fmt.Errorf("order not filled: %v", entry)
	}
	size, err := decimalField(filled, "totalSz")
	if err != nil {
		return orderFill{}, err
	}
	price, err := decimalField(filled, "avgPx")
	if err != nil {
		return orderFill{}, err
	}
	return orderFill{Size: size, Price: price}, nil
}

func checkActionResponse(resp map[string]any) error {
	if status, _ := resp["status"].(string); status != "ok" {
		return fmt.Errorf("exchange status %q: %v", status, resp["response"])
	}
	return nil
}

func decimalField(m map[string]any, key string) (decimal.Decimal, error) {
	switch v := m[key].(type) {
	case string:
		return decimal.NewFromString(v)
	case float64:
		return decimal.NewFromFloat(v), nil
	default:
		return decimal.Decimal{}, fmt.Errorf("missing field %q", key)
	}
}
