package graph

import (
	"time"

	"github.com/orneryd/fraudgraph/pkg/store"
)

// MatcherThreshold is the set of optional post-hoc filter thresholds
// configured for one matcher name (spec §4.2's filter_config entries).
// A nil field means "not configured"; a non-nil 0 is a meaningful
// threshold (e.g. "must match exactly").
type MatcherThreshold struct {
	TimestampAlphaDays  *int
	TimestampBetaDays   *int
	LocationAlphaMetres *float64
	LocationBetaMetres  *float64
	LocationGammaMetres *float64
	LocationDeltaMetres *float64
}

// FilterConfig maps matcher name to its configured thresholds. A matcher
// absent from the map passes unconditionally (spec §4.2).
type FilterConfig map[string]MatcherThreshold

// passes reports whether the edge context pair (parent, candidate) linked
// through matcher satisfies every threshold configured for matcher. All
// configured thresholds must hold (spec §4.2.b): for each key, either side
// is null, or the measured difference is within the threshold.
func (fc FilterConfig) passes(matcher string, parent, candidate store.EdgeContext) bool {
	th, ok := fc[matcher]
	if !ok {
		return true
	}

	if !passesTemporal(th.TimestampAlphaDays, parent.DatetimeAlpha, candidate.DatetimeAlpha) {
		return false
	}
	if !passesTemporal(th.TimestampBetaDays, parent.DatetimeBeta, candidate.DatetimeBeta) {
		return false
	}
	if !passesSpatial(th.LocationAlphaMetres, parent.LongAlpha, parent.LatAlpha, candidate.LongAlpha, candidate.LatAlpha) {
		return false
	}
	if !passesSpatial(th.LocationBetaMetres, parent.LongBeta, parent.LatBeta, candidate.LongBeta, candidate.LatBeta) {
		return false
	}
	if !passesSpatial(th.LocationGammaMetres, parent.LongGamma, parent.LatGamma, candidate.LongGamma, candidate.LatGamma) {
		return false
	}
	if !passesSpatial(th.LocationDeltaMetres, parent.LongDelta, parent.LatDelta, candidate.LongDelta, candidate.LatDelta) {
		return false
	}
	return true
}

func passesTemporal(thresholdDays *int, a, b *time.Time) bool {
	if thresholdDays == nil {
		return true
	}
	if a == nil || b == nil {
		return true
	}
	diff := a.Sub(*b)
	if diff < 0 {
		diff = -diff
	}
	return diff <= time.Duration(*thresholdDays)*24*time.Hour
}

func passesSpatial(thresholdMetres *float64, lonA, latA, lonB, latB *float64) bool {
	if thresholdMetres == nil {
		return true
	}
	if lonA == nil || latA == nil || lonB == nil || latB == nil {
		return true
	}
	dist := HaversineDistance(
		Point{Latitude: *latA, Longitude: *lonA},
		Point{Latitude: *latB, Longitude: *lonB},
	)
	return dist <= *thresholdMetres
}
