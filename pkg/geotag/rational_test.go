package geotag

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBestRationalExtremePartialQuotients(t *testing.T) {
	// With the bound at MaxInt64 the walk only stops on exactness or when
	// the next convergent would not fit in int64. Near-reciprocal values
	// and float noise in the reciprocal iteration produce huge partial
	// quotients there; the convergent state must never wrap negative.
	values := []float64{
		1 / (1e12 + 1e-4),
		1e-12 + 1e-28,
		math.Pi * 1e-13,
		1 / 3.0000000001,
		0.1 + 1e-13,
		1 / (4e9 + 2.5e-10),
	}

	for _, v := range values {
		r, err := BestRational(v, math.MaxInt64)
		require.NoError(t, err, v)
		assert.Greater(t, r.Num, int64(0), v)
		assert.Greater(t, r.Den, int64(0), v)
		assert.InEpsilon(t, v, r.Float64(), 1e-6, v)
	}
}

func TestBestRationalExactValues(t *testing.T) {
	tests := []struct {
		name    string
		value   float64
		bound   int64
		wantNum int64
		wantDen int64
	}{
		{"zero", 0, 100, 0, 1},
		{"integer", 37, 100, 37, 1},
		{"half", 0.5, 100, 1, 2},
		{"millisecond fraction", 0.12, 1000, 3, 25},
		{"half degree bearing", 271.5, 10000, 543, 2},
		{"negative half", -0.5, 100, -1, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := BestRational(tt.value, tt.bound)
			require.NoError(t, err)
			assert.Equal(t, tt.wantNum, r.Num)
			assert.Equal(t, tt.wantDen, r.Den)
		})
	}
}

func TestBestRationalRespectsDenominatorBound(t *testing.T) {
	values := []float64{
		math.Pi, math.E, math.Sqrt2,
		29.64, 25.164, 0.000123,
		37.7749, 122.4194, 359.999972,
	}
	bounds := []int64{1, 10, 100, 10000, 50000000}

	for _, v := range values {
		for _, bound := range bounds {
			r, err := BestRational(v, bound)
			require.NoError(t, err)
			assert.LessOrEqual(t, r.Den, bound, "value %v bound %d", v, bound)
			assert.Greater(t, r.Den, int64(0))
		}
	}
}

func TestBestRationalBeatsFixedScale(t *testing.T) {
	// A fixed 1/100 scale loses up to 5e-3; the continued fraction walk
	// must do at least as well as rounding at the full bound.
	values := []float64{29.6424, 25.16388, 51.477811, 0.31415}
	bound := int64(50000000)

	for _, v := range values {
		r, err := BestRational(v, bound)
		require.NoError(t, err)

		got := math.Abs(r.Float64() - v)
		naive := math.Abs(math.Round(v*float64(bound))/float64(bound) - v)
		assert.LessOrEqual(t, got, naive+1e-15, "value %v", v)
	}
}

func TestBestRationalNonFinite(t *testing.T) {
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := BestRational(v, 100)
		assert.Error(t, err)
	}
}

func TestBestRationalInvalidBound(t *testing.T) {
	_, err := BestRational(1.5, 0)
	assert.Error(t, err)

	_, err = BestRational(1.5, -10)
	assert.Error(t, err)
}

func TestBestRationalNegativeSign(t *testing.T) {
	r, err := BestRational(-29.64, 10000)
	require.NoError(t, err)
	assert.Negative(t, r.Num)
	assert.Positive(t, r.Den)
	assert.InDelta(t, -29.64, r.Float64(), 1e-9)
}

func TestRationalHelpers(t *testing.T) {
	r := Rational{Num: 3, Den: 25}
	assert.InDelta(t, 0.12, r.Float64(), 1e-12)
	assert.Equal(t, "3/25", r.String())
	assert.False(t, r.IsZero())
	assert.True(t, Rational{Num: 0, Den: 1}.IsZero())
}
