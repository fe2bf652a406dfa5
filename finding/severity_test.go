package finding

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClampSeverity(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{-3, 0},
		{0, 0},
		{6.5, 6.5},
		{10, 10},
		{42, 10},
		{math.NaN(), 0},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ClampSeverity(tt.in), "ClampSeverity(%v)", tt.in)
	}
}

func TestBandFor(t *testing.T) {
	tests := []struct {
		in   float64
		want Band
	}{
		{0, BandInfo},
		{0.9, BandInfo},
		{1, BandLow},
		{3.9, BandLow},
		{4, BandMedium},
		{6.99, BandMedium},
		{7, BandHigh},
		{8.9, BandHigh},
		{9, BandCritical},
		{10, BandCritical},
		{15, BandCritical},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, BandFor(tt.in), "BandFor(%v)", tt.in)
	}
}
