// Package amount provides the 256-bit unsigned integer type used for every
// warehouse amount column (spec.md §3, §9).
package amount

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/holiman/uint256"
)

// U256 wraps holiman/uint256.Int, the 256-bit unsigned integer library the
// wider example pack depends on transitively (see DESIGN.md). Warehouses
// lacking a native 256-bit column type — this repository's embedded
// warehouse among them — serialize it as a decimal string, exactly the
// fallback spec.md §9 sanctions.
type U256 struct {
	inner uint256.Int
}

// Zero returns the additive identity.
func Zero() U256 { return U256{} }

// FromUint64 constructs a U256 from a native uint64.
func FromUint64(v uint64) U256 {
	var u U256
	u.inner.SetUint64(v)
	return u
}

// FromDecimal parses a base-10 string into a U256.
func FromDecimal(s string) (U256, error) {
	var u U256
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return U256{}, fmt.Errorf("parse u256 decimal %q: %w", s, err)
	}
	u.inner = *v
	return u, nil
}

// FromHex parses a 0x-prefixed hex string into a U256. Like
// uint256.FromHex, it rejects hex digits with leading zeros.
func FromHex(s string) (U256, error) {
	v, err := uint256.FromHex(s)
	if err != nil {
		return U256{}, fmt.Errorf("parse u256 hex %q: %w", s, err)
	}
	return U256{inner: *v}, nil
}

// String renders the value as a base-10 decimal string.
func (u U256) String() string { return u.inner.Dec() }

// IsZero reports whether the value is zero.
func (u U256) IsZero() bool { return u.inner.IsZero() }

// Add returns u + other, following the reference WarehouseData AddAssign
// semantics (saturating is not needed: amounts never realistically overflow
// 2^256, and overflow here indicates a module bug worth surfacing as a panic
// rather than silently wrapping).
func (u U256) Add(other U256) U256 {
	var out uint256.Int
	overflow := out.AddOverflow(&u.inner, &other.inner)
	if overflow {
		panic("u256 addition overflow")
	}
	return U256{inner: out}
}

// Sub returns u - other. Negative results are not representable: when
// other is greater than u, Sub returns (zero, false) (balances are clamped
// to non-negative per spec.md §3's "surfacing only non-negative totals").
func (u U256) Sub(other U256) (U256, bool) {
	if u.inner.Lt(&other.inner) {
		return U256{}, false
	}
	var out uint256.Int
	out.Sub(&u.inner, &other.inner)
	return U256{inner: out}, true
}

// Cmp compares two U256 values the way math/big.Int.Cmp does.
func (u U256) Cmp(other U256) int { return u.inner.Cmp(&other.inner) }

// MarshalJSON encodes the value as a JSON string (decimal), never a bare
// number, so it round-trips without float64 precision loss.
func (u U256) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.inner.Dec())
}

// UnmarshalJSON decodes a JSON string (decimal) into the value.
func (u *U256) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return fmt.Errorf("unmarshal u256 %q: %w", s, err)
	}
	u.inner = *v
	return nil
}

// Value implements database/sql/driver.Valuer for warehouse drivers that
// store U256 as a decimal-string column.
func (u U256) Value() (driver.Value, error) { return u.inner.Dec(), nil }
