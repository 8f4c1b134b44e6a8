package valueobjects

import (
	"encoding/json"
	"testing"
)

func TestParseAmountRejectsInvalidInput(t *testing.T) {
	for _, raw := range []string{"", "  ", "-1", "1.5", "abc", "1e9"} {
		if _, err := ParseAmount(raw); err == nil {
			t.Fatalf("expected parse failure for %q", raw)
		}
	}
}

func TestParseAmountHandlesLargeValues(t *testing.T) {
	raw := "340282366920938463463374607431768211456" // 2^128
	amount, err := ParseAmount(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if amount.String() != raw {
		t.Fatalf("expected %s, got %s", raw, amount.String())
	}
}

func TestAmountSubUnderflow(t *testing.T) {
	small := AmountFromUint64(5)
	large := AmountFromUint64(10)

	if _, err := small.Sub(large); err == nil {
		t.Fatalf("expected underflow error")
	}

	diff, err := large.Sub(small)
	if err != nil {
		t.Fatalf("sub failed: %v", err)
	}
	if diff.String() != "5" {
		t.Fatalf("expected 5, got %s", diff.String())
	}
}

func TestAmountZeroValueUsable(t *testing.T) {
	var amount Amount
	if !amount.IsZero() || amount.IsPositive() {
		t.Fatalf("zero value must equal zero")
	}
	if amount.Add(AmountFromUint64(3)).String() != "3" {
		t.Fatalf("zero value must participate in arithmetic")
	}
}

func TestAmountJSONRoundTrip(t *testing.T) {
	raw, err := json.Marshal(AmountFromUint64(12345))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(raw) != `"12345"` {
		t.Fatalf("expected quoted string form, got %s", raw)
	}

	var decoded Amount
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded.Cmp(AmountFromUint64(12345)) != 0 {
		t.Fatalf("round trip changed the value")
	}
}
