// Package money defines the fixed-point monetary and share quantities used
// across the pool engine. Amounts are integer minor units with 6 decimal
// places (USDC convention), shares are integer minor units with 18 decimal
// places. Every cross-unit conversion floors, so the engine never mints
// shares or pays out currency beyond what the inputs back.
package money

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// AmountDecimals is the minor-unit scale of currency amounts.
	AmountDecimals = 6
	// ShareDecimals is the minor-unit scale of share quantities.
	ShareDecimals = 18
)

var (
	bpsDivisor = decimal.NewFromInt(10000)
	hundred    = decimal.NewFromInt(100)
	// pegScale converts currency minor units to share minor units at a
	// price of exactly 1.0 (first issuance into an empty pool).
	pegScale = decimal.New(1, ShareDecimals-AmountDecimals)
	// Tolerance absorbed by percentage limit checks: one rounding step at
	// two decimal places.
	percentTolerance = decimal.NewFromFloat(0.01)
)

var (
	ErrNoSupply   = errors.New("no shares outstanding")
	ErrNoValue    = errors.New("pool has no backing value")
	ErrZeroWhole  = errors.New("division by zero whole")
	ErrPrecision  = errors.New("too many decimal places")
	ErrNotDecimal = errors.New("not a decimal number")
)

// Amount is a currency amount held as an integer count of minor units.
// The zero value is zero currency.
type Amount struct {
	units decimal.Decimal
}

// AmountFromMinor builds an Amount from a count of minor units.
func AmountFromMinor(units int64) Amount {
	return Amount{units: decimal.NewFromInt(units)}
}

// AmountFromUnits builds an Amount from an integer decimal of minor units,
// as read back from the ledger or the database.
func AmountFromUnits(units decimal.Decimal) (Amount, error) {
	if !units.IsInteger() {
		return Amount{}, fmt.Errorf("%w: %s is not a whole minor-unit count", ErrPrecision, units)
	}
	return Amount{units: units}, nil
}

// ParseAmount parses a major-unit decimal string such as "1500.25".
// More than 6 decimal places is rejected rather than silently truncated.
func ParseAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("%w: %q", ErrNotDecimal, s)
	}
	units := d.Shift(AmountDecimals)
	if !units.IsInteger() {
		return Amount{}, fmt.Errorf("%w: %q exceeds %d decimals", ErrPrecision, s, AmountDecimals)
	}
	return Amount{units: units}, nil
}

func (a Amount) Add(b Amount) Amount { return Amount{units: a.units.Add(b.units)} }
func (a Amount) Sub(b Amount) Amount { return Amount{units: a.units.Sub(b.units)} }

func (a Amount) Cmp(b Amount) int          { return a.units.Cmp(b.units) }
func (a Amount) LessThan(b Amount) bool    { return a.units.Cmp(b.units) < 0 }
func (a Amount) GreaterThan(b Amount) bool { return a.units.Cmp(b.units) > 0 }
func (a Amount) IsZero() bool              { return a.units.IsZero() }
func (a Amount) IsPositive() bool          { return a.units.IsPositive() }
func (a Amount) IsNegative() bool          { return a.units.IsNegative() }

// MulBps applies a basis-point rate, flooring the result.
func (a Amount) MulBps(b Bps) Amount {
	return Amount{units: floorDiv(a.units.Mul(decimal.NewFromInt(int64(b))), bpsDivisor)}
}

// Minor returns the integer minor-unit count.
func (a Amount) Minor() decimal.Decimal { return a.units }

// String renders major units, e.g. "1500.25".
func (a Amount) String() string { return a.units.Shift(-AmountDecimals).String() }

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	units, err := unmarshalUnits(data, AmountDecimals)
	if err != nil {
		return err
	}
	a.units = units
	return nil
}

// Value implements driver.Valuer, storing the minor-unit integer.
func (a Amount) Value() (driver.Value, error) {
	return a.units.String(), nil
}

// Scan implements sql.Scanner for numeric columns.
func (a *Amount) Scan(value interface{}) error {
	units, err := scanUnits(value)
	if err != nil {
		return err
	}
	a.units = units
	return nil
}

// Shares is a share quantity held as an integer count of minor units.
// The zero value is zero shares.
type Shares struct {
	units decimal.Decimal
}

// SharesFromMinor builds a Shares quantity from a count of minor units.
func SharesFromMinor(units int64) Shares {
	return Shares{units: decimal.NewFromInt(units)}
}

// SharesFromUnits builds a Shares quantity from an integer decimal of minor
// units. Share counts overflow int64 at 18 decimals, so ledger reads come
// through here.
func SharesFromUnits(units decimal.Decimal) (Shares, error) {
	if !units.IsInteger() {
		return Shares{}, fmt.Errorf("%w: %s is not a whole minor-unit count", ErrPrecision, units)
	}
	return Shares{units: units}, nil
}

// ParseShares parses a whole-share decimal string such as "10.5".
func ParseShares(s string) (Shares, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Shares{}, fmt.Errorf("%w: %q", ErrNotDecimal, s)
	}
	units := d.Shift(ShareDecimals)
	if !units.IsInteger() {
		return Shares{}, fmt.Errorf("%w: %q exceeds %d decimals", ErrPrecision, s, ShareDecimals)
	}
	return Shares{units: units}, nil
}

func (s Shares) Add(t Shares) Shares { return Shares{units: s.units.Add(t.units)} }
func (s Shares) Sub(t Shares) Shares { return Shares{units: s.units.Sub(t.units)} }

func (s Shares) Cmp(t Shares) int       { return s.units.Cmp(t.units) }
func (s Shares) LessThan(t Shares) bool { return s.units.Cmp(t.units) < 0 }
func (s Shares) IsZero() bool           { return s.units.IsZero() }
func (s Shares) IsPositive() bool       { return s.units.IsPositive() }
func (s Shares) IsNegative() bool       { return s.units.IsNegative() }

// Minor returns the integer minor-unit count.
func (s Shares) Minor() decimal.Decimal { return s.units }

// String renders whole shares, e.g. "10.5".
func (s Shares) String() string { return s.units.Shift(-ShareDecimals).String() }

func (s Shares) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

func (s *Shares) UnmarshalJSON(data []byte) error {
	units, err := unmarshalUnits(data, ShareDecimals)
	if err != nil {
		return err
	}
	s.units = units
	return nil
}

func (s Shares) Value() (driver.Value, error) {
	return s.units.String(), nil
}

func (s *Shares) Scan(value interface{}) error {
	units, err := scanUnits(value)
	if err != nil {
		return err
	}
	s.units = units
	return nil
}

// SharesForDeposit computes the shares minted for a deposit. An empty pool
// issues at a fixed price of 1.0, one share per currency unit. A funded pool
// issues deposit*supply/value, floored, so new holders can never dilute
// existing ones upward.
func SharesForDeposit(deposit Amount, supply Shares, value Amount) (Shares, error) {
	if supply.IsZero() {
		return Shares{units: deposit.units.Mul(pegScale)}, nil
	}
	if !value.IsPositive() {
		return Shares{}, ErrNoValue
	}
	return Shares{units: floorDiv(deposit.units.Mul(supply.units), value.units)}, nil
}

// AmountForShares computes the currency redeemed for burning shares at the
// pool's current valuation, floored.
func AmountForShares(burn Shares, supply Shares, value Amount) (Amount, error) {
	if !supply.IsPositive() {
		return Amount{}, ErrNoSupply
	}
	return Amount{units: floorDiv(burn.units.Mul(value.units), supply.units)}, nil
}

// ProRata splits total in proportion part/whole, floored. Flooring means the
// sum of all splits never exceeds total; the remainder stays unallocated.
func ProRata(total Amount, part, whole Shares) (Amount, error) {
	if !whole.IsPositive() {
		return Amount{}, ErrZeroWhole
	}
	return Amount{units: floorDiv(total.units.Mul(part.units), whole.units)}, nil
}

// PerShareRate reports the currency paid per whole share for a
// distribution, truncated to 18 fractional digits. The rate is the recorded
// figure of a dividend; actual payouts go through ProRata so flooring is
// applied once, on the final amount.
func PerShareRate(total Amount, supply Shares) (decimal.Decimal, error) {
	if !supply.IsPositive() {
		return decimal.Decimal{}, ErrNoSupply
	}
	return total.units.Shift(-AmountDecimals).
		DivRound(supply.units.Shift(-ShareDecimals), ShareDecimals+1).
		Truncate(ShareDecimals), nil
}

// YieldOver computes the yield an amount earns at an annual basis-point
// rate over an elapsed duration, floored. A full 365 days at 1000 bps on
// 100 returns 10.
func YieldOver(principal Amount, apy Bps, elapsed, year time.Duration) Amount {
	if elapsed <= 0 || year <= 0 {
		return Amount{units: decimal.Zero}
	}
	annual := principal.MulBps(apy)
	num := annual.units.Mul(decimal.NewFromInt(int64(elapsed)))
	return Amount{units: floorDiv(num, decimal.NewFromInt(int64(year)))}
}

// SharePrice reports the price of one whole share in currency units. Pools
// with no outstanding supply quote the launch price of 1.
func SharePrice(value Amount, supply Shares) decimal.Decimal {
	if supply.IsZero() {
		return decimal.NewFromInt(1)
	}
	return value.units.Shift(-AmountDecimals).
		DivRound(supply.units.Shift(-ShareDecimals), AmountDecimals)
}

// Bps is a rate in basis points. One basis point is 0.01%.
type Bps int64

// Percent converts the rate to a display percentage.
func (b Bps) Percent() Percent {
	return Percent{v: decimal.NewFromInt(int64(b)).Div(hundred).Round(2)}
}

// Bps converts a two-decimal percentage to basis points exactly.
func (p Percent) Bps() Bps {
	return Bps(p.v.Mul(hundred).IntPart())
}

// Percent is a percentage rounded to two decimal places. The zero value is
// 0.00%.
type Percent struct {
	v decimal.Decimal
}

// ParsePercent parses a percentage string such as "12.5", rounding to two
// decimal places.
func ParsePercent(s string) (Percent, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Percent{}, fmt.Errorf("%w: %q", ErrNotDecimal, s)
	}
	return Percent{v: d.Round(2)}, nil
}

// PercentOf computes part/whole as a percentage rounded to two decimals.
func PercentOf(part, whole Amount) (Percent, error) {
	if !whole.IsPositive() {
		return Percent{}, ErrZeroWhole
	}
	return Percent{v: part.units.Mul(hundred).DivRound(whole.units, 2)}, nil
}

func (p Percent) Add(q Percent) Percent { return Percent{v: p.v.Add(q.v)} }
func (p Percent) Sub(q Percent) Percent { return Percent{v: p.v.Sub(q.v)} }
func (p Percent) Cmp(q Percent) int     { return p.v.Cmp(q.v) }
func (p Percent) IsZero() bool          { return p.v.IsZero() }
func (p Percent) IsNegative() bool      { return p.v.IsNegative() }

// WithinLimit reports whether p stays at or under limit, treating an
// overshoot of at most one rounding step (0.01) as equal. Two-decimal
// rounding of individual contributions can push an exact-limit total a step
// over; that must not trip the cap.
func (p Percent) WithinLimit(limit Percent) bool {
	return p.v.Cmp(limit.v.Add(percentTolerance)) <= 0
}

// String renders the percentage with two decimals, e.g. "49.00".
func (p Percent) String() string { return p.v.StringFixed(2) }

func (p Percent) MarshalJSON() ([]byte, error) {
	return []byte(`"` + p.String() + `"`), nil
}

func (p *Percent) UnmarshalJSON(data []byte) error {
	parsed, err := ParsePercent(unquote(data))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

func (p Percent) Value() (driver.Value, error) {
	return p.v.StringFixed(2), nil
}

func (p *Percent) Scan(value interface{}) error {
	d, err := scanUnits(value)
	if err != nil {
		return err
	}
	p.v = d.Round(2)
	return nil
}

// floorDiv divides exactly and truncates. Decimal's Div rounds at its
// configured precision, which for pathological quotients can cross an
// integer boundary upward; QuoRem with precision 0 cannot.
func floorDiv(num, den decimal.Decimal) decimal.Decimal {
	q, _ := num.QuoRem(den, 0)
	return q
}

func unquote(data []byte) string {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

func unmarshalUnits(data []byte, scale int32) (decimal.Decimal, error) {
	s := unquote(data)
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %q", ErrNotDecimal, s)
	}
	units := d.Shift(scale)
	if !units.IsInteger() {
		return decimal.Decimal{}, fmt.Errorf("%w: %q exceeds %d decimals", ErrPrecision, s, scale)
	}
	return units, nil
}

func scanUnits(value interface{}) (decimal.Decimal, error) {
	switch v := value.(type) {
	case nil:
		return decimal.Decimal{}, nil
	case string:
		return decimal.NewFromString(v)
	case []byte:
		return decimal.NewFromString(string(v))
	case int64:
		return decimal.NewFromInt(v), nil
	case float64:
		return decimal.NewFromFloat(v), nil
	default:
		return decimal.Decimal{}, fmt.Errorf("cannot scan %T into decimal units", value)
	}
}
