// Package decimal wraps shopspring/decimal with the two scalar kinds the
// kinematics layer needs: exact speeds and exact distances. Arithmetic on
// either stays in fixed-point decimal the whole way through; conversion to
// a plain float64 only happens at the very edge, when a value crosses into
// the simulation core.
package decimal

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Speed represents a velocity with fixed precision.
type Speed struct {
	value decimal.Decimal
}

// Distance represents a distance with fixed precision.
type Distance struct {
	value decimal.Decimal
}

// NewSpeed creates a new Speed from a string.
func NewSpeed(s string) (Speed, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Speed{}, fmt.Errorf("invalid speed: %w", err)
	}
	return Speed{value: d}, nil
}

// NewSpeedFromFloat creates a Speed from a float64.
func NewSpeedFromFloat(f float64) Speed {
	// 0.1 + 0.2 != 0.3 in float; enter decimal space immediately.
	return Speed{value: decimal.NewFromFloat(f)}
}

// NewDistance creates a new Distance from a string.
func NewDistance(s string) (Distance, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Distance{}, fmt.Errorf("invalid distance: %w", err)
	}
	return Distance{value: d}, nil
}

// NewDistanceFromFloat creates a Distance from a float64.
func NewDistanceFromFloat(f float64) Distance {
	return Distance{value: decimal.NewFromFloat(f)}
}

// Add adds two speeds.
func (s Speed) Add(other Speed) Speed {
	return Speed{value: s.value.Add(other.value)}
}

// Sub subtracts two speeds.
func (s Speed) Sub(other Speed) Speed {
	return Speed{value: s.value.Sub(other.value)}
}

// DecelerateOver returns the speed reached after decelerating at rate
// (a Speed lost per second) for the given number of seconds, floored at
// zero.
func (s Speed) DecelerateOver(rate Speed, seconds float64) Speed {
	delta := rate.value.Mul(decimal.NewFromFloat(seconds))
	result := s.value.Sub(delta)
	if result.IsNegative() {
		return Speed{value: decimal.Zero}
	}
	return Speed{value: result}
}

// Cmp compares two speeds.
func (s Speed) Cmp(other Speed) int {
	return s.value.Cmp(other.value)
}

// IsZero checks if the speed is zero.
func (s Speed) IsZero() bool {
	return s.value.IsZero()
}

// String returns the string representation.
func (s Speed) String() string {
	return s.value.StringFixed(4)
}

// Float64 returns the float64 representation. This is the only place
// precision is allowed to narrow, and it only happens at the boundary
// into the simulation core.
func (s Speed) Float64() float64 {
	f, _ := s.value.Float64()
	return f
}

// Add adds two distances.
func (d Distance) Add(other Distance) Distance {
	return Distance{value: d.value.Add(other.value)}
}

// Sub subtracts two distances.
func (d Distance) Sub(other Distance) Distance {
	return Distance{value: d.value.Sub(other.value)}
}

// DivDuration divides a distance by a duration in seconds, producing the
// average Speed over that duration. Returns an error on a zero duration.
func (d Distance) DivDuration(seconds float64) (Speed, error) {
	if seconds == 0 {
		return Speed{}, fmt.Errorf("division by zero duration")
	}
	return Speed{value: d.value.Div(decimal.NewFromFloat(seconds))}, nil
}

// IsNegative checks if the distance is negative.
func (d Distance) IsNegative() bool {
	return d.value.IsNegative()
}

// String returns the string representation.
func (d Distance) String() string {
	return d.value.String()
}

// Float64 returns the float64 representation.
func (d Distance) Float64() float64 {
	f, _ := d.value.Float64()
	return f
}
