package geotag

import (
	"math"
	"sync"
	"time"

	"github.com/ringsaturn/tzf"

	errs "mapgrab/pkg/errors"
	"mapgrab/pkg/mapillary"
)

// Denominator bounds per field. GPS rationals are unsigned 32-bit pairs, so
// the bound times the field's maximum magnitude must stay below 2^32.
// 1/secondsDenominatorBound of an arc second is under a micrometer on the
// ground, comfortably inside the 0.0002 m target.
const (
	secondsDenominatorBound  = 50_000_000
	altitudeDenominatorBound = 10_000
	bearingDenominatorBound  = 10_000
	subSecDenominatorBound   = 1_000
)

// DMS is an angle split into degrees, minutes and seconds rationals, with a
// hemisphere reference. All three components are non-negative; the sign
// lives in Ref.
type DMS struct {
	Degrees Rational
	Minutes Rational
	Seconds Rational
	Ref     string
}

// AltitudeValue is an encoded altitude with its sea-level reference.
type AltitudeValue struct {
	Value    Rational // non-negative
	BelowSea bool
}

// Record is the complete, internally consistent metadata record for one
// image. Built once per descriptor, never mutated, consumed exactly once by
// the writer.
type Record struct {
	ImageID    string
	SequenceID string

	Latitude  DMS
	Longitude DMS

	// Absent when the source value is unknown; never defaulted to zero.
	Altitude *AltitudeValue

	// Bearing relative to true north, normalized to [0, 360). Absent when
	// the source carried no compass angle.
	Bearing *Rational

	Captured time.Time // UTC capture instant, truncated to whole seconds
	SubSec   Rational  // fractional second, in [0, 1)

	// UTCOffset is the signed offset of the capture location's timezone at
	// the capture instant, e.g. "-07:00". Empty when the coordinate could
	// not be resolved to a zone.
	UTCOffset string
	Zone      string // IANA zone id, informational

	CameraMake  string
	CameraModel string

	Spherical bool
}

// OffsetResolved reports whether the capture location resolved to a timezone.
func (r *Record) OffsetResolved() bool {
	return r.UTCOffset != ""
}

// The timezone finder carries a polygon index for the whole planet; build it
// once and share it across all workers.
var (
	finderOnce sync.Once
	finder     tzf.F
	finderErr  error
)

func timezoneFinder() (tzf.F, error) {
	finderOnce.Do(func() {
		finder, finderErr = tzf.NewDefaultFinder()
	})
	return finder, finderErr
}

// Build assembles a Record from a descriptor. A missing or out-of-range
// coordinate is a terminal geometry error for this image only. An
// unresolvable timezone is not an error: the offset is omitted and the
// caller can inspect OffsetResolved.
func Build(desc *mapillary.ImageDescriptor) (*Record, error) {
	if desc.Latitude == nil || desc.Longitude == nil {
		return nil, errs.New(errs.ErrorTypeGeometry, "image %s has no coordinates", desc.ID)
	}
	lat, lon := *desc.Latitude, *desc.Longitude
	if lat < -90 || lat > 90 {
		return nil, errs.New(errs.ErrorTypeGeometry, "image %s latitude %f out of range", desc.ID, lat)
	}
	if lon < -180 || lon > 180 {
		return nil, errs.New(errs.ErrorTypeGeometry, "image %s longitude %f out of range", desc.ID, lon)
	}

	rec := &Record{
		ImageID:     desc.ID,
		SequenceID:  desc.SequenceID,
		CameraMake:  desc.CameraMake,
		CameraModel: desc.CameraModel,
		Spherical:   desc.Spherical,
	}

	var err error
	rec.Latitude, err = encodeDMS(lat, "N", "S")
	if err != nil {
		return nil, err
	}
	rec.Longitude, err = encodeDMS(lon, "E", "W")
	if err != nil {
		return nil, err
	}

	if desc.Altitude != nil {
		value, err := BestRational(math.Abs(*desc.Altitude), altitudeDenominatorBound)
		if err != nil {
			return nil, err
		}
		rec.Altitude = &AltitudeValue{Value: value, BelowSea: *desc.Altitude < 0}
	}

	if desc.Bearing != nil {
		bearing := math.Mod(*desc.Bearing, 360)
		if bearing < 0 {
			bearing += 360
		}
		value, err := BestRational(bearing, bearingDenominatorBound)
		if err != nil {
			return nil, err
		}
		rec.Bearing = &value
	}

	captured := desc.CapturedAt.UTC()
	rec.Captured = captured.Truncate(time.Second)
	frac := float64(captured.Nanosecond()) / float64(time.Second)
	rec.SubSec, err = BestRational(frac, subSecDenominatorBound)
	if err != nil {
		return nil, err
	}

	rec.Zone, rec.UTCOffset = resolveOffset(lat, lon, captured)

	return rec, nil
}

// encodeDMS splits decimal degrees into integer degrees, integer minutes and
// a best-rational seconds remainder. The seconds denominator scales with the
// fraction instead of being pinned to 1/100.
func encodeDMS(value float64, posRef, negRef string) (DMS, error) {
	ref := posRef
	if value < 0 {
		ref = negRef
	}

	abs := math.Abs(value)
	deg := math.Floor(abs)
	min := math.Floor((abs - deg) * 60)
	sec := (abs - deg - min/60) * 3600

	// Guard against float drift pushing seconds to exactly 60.
	if sec >= 60 {
		sec -= 60
		min++
	}
	if min >= 60 {
		min -= 60
		deg++
	}

	secRat, err := BestRational(sec, secondsDenominatorBound)
	if err != nil {
		return DMS{}, err
	}

	return DMS{
		Degrees: Rational{Num: int64(deg), Den: 1},
		Minutes: Rational{Num: int64(min), Den: 1},
		Seconds: secRat,
		Ref:     ref,
	}, nil
}

// Decimal converts the DMS triple back to signed decimal degrees.
func (d DMS) Decimal() float64 {
	v := d.Degrees.Float64() + d.Minutes.Float64()/60 + d.Seconds.Float64()/3600
	if d.Ref == "S" || d.Ref == "W" {
		v = -v
	}
	return v
}

// resolveOffset maps a coordinate to its IANA timezone and evaluates that
// zone's UTC offset at the capture instant, DST included. Open ocean and
// other unmappable coordinates yield empty strings.
func resolveOffset(lat, lon float64, at time.Time) (zone, offset string) {
	f, err := timezoneFinder()
	if err != nil {
		return "", ""
	}

	name := f.GetTimezoneName(lon, lat)
	if name == "" {
		return "", ""
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		return name, ""
	}

	return name, at.In(loc).Format("-07:00")
}
