package importer

import (
	"runlog-strava-sync/internal/strava"
)

// MaxStreamPoints bounds the stored telemetry series. Charts need no more
// resolution than this.
const MaxStreamPoints = 600

// NormalizeStreams downsamples raw telemetry to at most maxPoints samples
// per channel, always preserving the final original sample so the activity's
// exact end state survives. Cadence is doubled to full steps per minute,
// mirroring the summary-level mapping rule.
func NormalizeStreams(raw *strava.StreamSet, maxPoints int) *strava.StreamSet {
	if raw == nil {
		return nil
	}

	stride := 1
	if n := seriesLength(raw); maxPoints > 0 && n > maxPoints {
		stride = (n + maxPoints - 1) / maxPoints
	}

	out := &strava.StreamSet{
		Time:           sample(raw.Time, stride),
		Distance:       sample(raw.Distance, stride),
		Heartrate:      sample(raw.Heartrate, stride),
		Altitude:       sample(raw.Altitude, stride),
		VelocitySmooth: sample(raw.VelocitySmooth, stride),
		GradeSmooth:    sample(raw.GradeSmooth, stride),
		LatLng:         sample(raw.LatLng, stride),
	}

	cadence := sample(raw.Cadence, stride)
	for i := range cadence {
		cadence[i] *= 2
	}
	out.Cadence = cadence

	return out
}

// DataPoints returns the sample count of a normalized set, preferring the
// time channel and falling back to the longest channel
func DataPoints(s *strava.StreamSet) int {
	if s == nil {
		return 0
	}
	if len(s.Time) > 0 {
		return len(s.Time)
	}
	return seriesLength(s)
}

// seriesLength is the length of the longest channel
func seriesLength(s *strava.StreamSet) int {
	n := len(s.Time)
	for _, l := range []int{
		len(s.Distance), len(s.Heartrate), len(s.Altitude),
		len(s.VelocitySmooth), len(s.Cadence), len(s.GradeSmooth), len(s.LatLng),
	} {
		if l > n {
			n = l
		}
	}
	return n
}

// sample picks every stride-th element and appends the last original element
// if the strided selection dropped it
func sample[T any](data []T, stride int) []T {
	if len(data) == 0 {
		return nil
	}
	if stride <= 1 {
		return append([]T(nil), data...)
	}

	out := make([]T, 0, len(data)/stride+2)
	for i := 0; i < len(data); i += stride {
		out = append(out, data[i])
	}

	if (len(data)-1)%stride != 0 {
		out = append(out, data[len(data)-1])
	}

	return out
}
