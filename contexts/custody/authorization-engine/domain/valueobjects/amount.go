package valueobjects

import (
	"fmt"
	"math/big"
	"strings"
)

// Amount is an arbitrary-precision unsigned integer quantity of vault value.
// Arithmetic never wraps: construction rejects negatives and subtraction
// fails on underflow. The zero value is usable and equals zero.
type Amount struct {
	value *big.Int
}

// ParseAmount builds an Amount from its canonical base-10 string form.
func ParseAmount(raw string) (Amount, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Amount{}, fmt.Errorf("amount is required")
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return Amount{}, fmt.Errorf("amount %q is not a base-10 integer", trimmed)
	}
	if value.Sign() < 0 {
		return Amount{}, fmt.Errorf("amount %q is negative", trimmed)
	}
	return Amount{value: value}, nil
}

// AmountFromUint64 builds an Amount from a machine integer. Test helper.
func AmountFromUint64(v uint64) Amount {
	return Amount{value: new(big.Int).SetUint64(v)}
}

// ZeroAmount returns the zero quantity.
func ZeroAmount() Amount {
	return Amount{}
}

func (a Amount) bigValue() *big.Int {
	if a.value == nil {
		return new(big.Int)
	}
	return a.value
}

// IsZero reports whether the amount equals zero.
func (a Amount) IsZero() bool {
	return a.bigValue().Sign() == 0
}

// IsPositive reports whether the amount is strictly greater than zero.
func (a Amount) IsPositive() bool {
	return a.bigValue().Sign() > 0
}

// Cmp compares a against other: -1 if less, 0 if equal, 1 if greater.
func (a Amount) Cmp(other Amount) int {
	return a.bigValue().Cmp(other.bigValue())
}

// Add returns a + other. Unsigned addition cannot fail.
func (a Amount) Add(other Amount) Amount {
	return Amount{value: new(big.Int).Add(a.bigValue(), other.bigValue())}
}

// Sub returns a - other, failing instead of wrapping below zero.
func (a Amount) Sub(other Amount) (Amount, error) {
	if a.Cmp(other) < 0 {
		return Amount{}, fmt.Errorf("amount underflow: %s - %s", a.String(), other.String())
	}
	return Amount{value: new(big.Int).Sub(a.bigValue(), other.bigValue())}, nil
}

// String renders the canonical base-10 form used in JSON and storage.
func (a Amount) String() string {
	return a.bigValue().String()
}

// MarshalJSON encodes the amount as a JSON string to avoid precision loss.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// UnmarshalJSON decodes the canonical string form.
func (a *Amount) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	parsed, err := ParseAmount(raw)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
