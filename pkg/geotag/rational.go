package geotag

import (
	"fmt"
	"math"

	errs "mapgrab/pkg/errors"
)

// Rational is a signed integer ratio. The denominator is always positive;
// the sign is carried by the numerator.
type Rational struct {
	Num int64
	Den int64
}

// Float64 returns the decimal value represented by the ratio.
func (r Rational) Float64() float64 {
	return float64(r.Num) / float64(r.Den)
}

func (r Rational) String() string {
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}

// IsZero reports whether the ratio represents zero.
func (r Rational) IsZero() bool {
	return r.Num == 0
}

// BestRational returns the closest rational to value achievable with any
// denominator not exceeding maxDenominator, found by walking the continued
// fraction expansion of value. This is what gives sub-millimeter GPS
// precision where a fixed 1/100 scale loses a third of a meter.
func BestRational(value float64, maxDenominator int64) (Rational, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return Rational{}, errs.New(errs.ErrorTypeEncoding, "cannot encode non-finite value %v", value)
	}
	if maxDenominator < 1 {
		return Rational{}, errs.New(errs.ErrorTypeEncoding, "denominator bound must be at least 1, got %d", maxDenominator)
	}

	neg := math.Signbit(value)
	v := math.Abs(value)

	// Walk the convergents p1/q1 of the continued fraction expansion until
	// the next one would overshoot the denominator bound.
	p0, q0, p1, q1 := int64(0), int64(1), int64(1), int64(0)
	x := v
	exact := false
	for {
		a := int64(math.Floor(x))
		// A huge partial quotient can overflow a*q1 before the bound check;
		// such a convergent would blow past the bound regardless.
		if q1 > 0 && a > (math.MaxInt64-q0)/q1 {
			break
		}
		if q2 := q0 + a*q1; q2 > maxDenominator {
			break
		}
		p0, q0, p1, q1 = p1, q1, p0+a*p1, q0+a*q1
		frac := x - math.Floor(x)
		if frac < 1e-12 {
			exact = true
			break
		}
		x = 1 / frac
	}

	best := reduce(p1, q1)
	if !exact {
		// The best semiconvergent below the bound can beat the last
		// convergent; pick whichever lands closer.
		k := (maxDenominator - q0) / q1
		if k > 0 {
			sn, sd := p0+k*p1, q0+k*q1
			if math.Abs(v-float64(sn)/float64(sd)) < math.Abs(v-best.Float64()) {
				best = reduce(sn, sd)
			}
		}
	}

	if neg {
		best.Num = -best.Num
	}
	return best, nil
}

func reduce(num, den int64) Rational {
	if g := gcd(num, den); g > 1 {
		num /= g
		den /= g
	}
	return Rational{Num: num, Den: den}
}

func gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	if a < 0 {
		return -a
	}
	return a
}
