package finding

import "math"

// Severity bounds.
const (
	MinSeverity = 0.0
	MaxSeverity = 10.0
)

// Band is a coarse label for a numeric severity.
type Band string

const (
	// BandCritical covers severities of 9 and above.
	BandCritical Band = "critical"

	// BandHigh covers [7, 9).
	BandHigh Band = "high"

	// BandMedium covers [4, 7).
	BandMedium Band = "medium"

	// BandLow covers [1, 4).
	BandLow Band = "low"

	// BandInfo covers everything below 1.
	BandInfo Band = "info"
)

// bandFloors lists each band with its inclusive lower bound, most severe first.
var bandFloors = []struct {
	band  Band
	floor float64
}{
	{BandCritical, 9.0},
	{BandHigh, 7.0},
	{BandMedium, 4.0},
	{BandLow, 1.0},
	{BandInfo, MinSeverity},
}

// ClampSeverity limits s to [MinSeverity, MaxSeverity].
// NaN clamps to MinSeverity.
func ClampSeverity(s float64) float64 {
	if math.IsNaN(s) || s < MinSeverity {
		return MinSeverity
	}
	if s > MaxSeverity {
		return MaxSeverity
	}
	return s
}

// BandFor returns the band a numeric severity falls into.
func BandFor(s float64) Band {
	s = ClampSeverity(s)
	for _, b := range bandFloors {
		if s >= b.floor {
			return b.band
		}
	}
	return BandInfo
}

// String returns the string representation of the band.
func (b Band) String() string {
	return string(b)
}
