package hyperliquid

import (
	"encoding/json"
	"testing"
)

func responseFromJSON(t *testing.T, raw string) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestParseOrderResponseFilled(t *testing.T) {
	resp := responseFromJSON(t, `{
		"status": "ok",
		"response": {
			"type": "order",
			"data": {
				"statuses": [
					{"filled": {"totalSz": "0.25", "avgPx": "50123.5", "oid": 12345}}
				]
			}
		}
	}`)
	fill, err := parseOrderResponse(resp)
	if err != nil {
		t.Fatalf("parseOrderResponse: %v", err)
	}
	if !fill.Size.Equal(dec("0.25")) {
		t.Fatalf("size = %s, want 0.25", fill.Size)
	}
	if !fill.Price.Equal(dec("50123.5")) {
		t.Fatalf("price = %s, want 50123.5", fill.Price)
	}
}

func TestParseOrderResponseRejected(t *testing.T) {
	resp := responseFromJSON(t, `{
		"status": "ok",
		"response": {
			"type": "order",
			"data": {
				"statuses": [
					{"error": "Insufficient margin to place order."}
				]
			}
		}
	}`)
	if _, err := parseOrderResponse(resp); err == nil {
		t.Fatal("rejected order must surface as an error")
	}
}

func TestParseOrderResponseResting(t *testing.T) {
	// An IOC order should never rest; treat it as a failure if it does.
	resp := responseFromJSON(t, `{
		"status": "ok",
		"response": {
			"type": "order",
			"data": {
				"statuses": [
					{"resting": {"oid": 77}}
				]
			}
		}
	}`)
	if _, err := parseOrderResponse(resp); err == nil {
		t.Fatal("resting order must surface as an error")
	}
}

func TestParseOrderResponseBadStatus(t *testing.T) {
	resp := responseFromJSON(t, `{"status": "err", "response": "Invalid signature"}`)
	if _, err := parseOrderResponse(resp); err == nil {
		t.Fatal("non-ok status must surface as an error")
	}
	if err := checkActionResponse(resp); err == nil {
		t.Fatal("non-ok status must fail the action check")
	}
	if err := checkActionResponse(responseFromJSON(t, `{"status": "ok", "response": {}}`)); err != nil {
		t.Fatalf("ok status should pass: %v", err)
	}
}

func TestParseOrderResponseEmptyStatuses(t *testing.T) {
	resp := responseFromJSON(t, `{"status": "ok", "response": {"data": {"statuses": []}}}`)
	if _, err := parseOrderResponse(resp); err == nil {
		t.Fatal("empty statuses must surface as an error")
	}
}
