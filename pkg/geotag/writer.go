package geotag

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"math"
	"time"

	exif "github.com/dsoprea/go-exif/v3"
	exifcommon "github.com/dsoprea/go-exif/v3/common"
	exifundefined "github.com/dsoprea/go-exif/v3/undefined"
	jpegstructure "github.com/dsoprea/go-jpeg-image-structure/v2"

	errs "mapgrab/pkg/errors"
)

const xmpNamespacePrefix = "http://ns.adobe.com/xap/1.0/\x00"

// gpanoXMP is the fixed XMP packet marking 360 content. Its presence is the
// signal consumers use to identify spherical images.
const gpanoXMP = xmpNamespacePrefix +
	`<x:xmpmeta xmlns:x="adobe:ns:meta/">` +
	`<rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#">` +
	`<rdf:Description xmlns:GPano="http://ns.google.com/photos/1.0/panorama/" ` +
	`GPano:ProjectionType="equirectangular" GPano:UsePanoramaViewer="True"/>` +
	`</rdf:RDF></x:xmpmeta>`

// Embed writes the record into the image as a standards-conformant EXIF
// block, replacing any metadata already present. With quality 0 the pixel
// data is carried over untouched; with quality 1-100 the image is re-encoded
// at that quality first. Output is deterministic: embedding the same record
// into the same bytes always yields identical output.
func Embed(data []byte, rec *Record, quality int) ([]byte, error) {
	if quality < 0 || quality > 100 {
		return nil, errs.New(errs.ErrorTypeEncoding, "invalid jpeg quality %d", quality)
	}

	if quality > 0 {
		reencoded, err := reencode(data, quality)
		if err != nil {
			return nil, err
		}
		data = reencoded
	}

	jmp := jpegstructure.NewJpegMediaParser()
	intfc, err := jmp.ParseBytes(data)
	if err != nil {
		return nil, errs.New(errs.ErrorTypeEncoding, "undecodable image payload: %v", err)
	}
	sl := intfc.(*jpegstructure.SegmentList)

	// Start from a clean slate so repeated embeds are byte-identical.
	sl = dropXMP(sl)
	if _, err := sl.DropExif(); err != nil {
		return nil, errs.New(errs.ErrorTypeEncoding, "failed to drop existing metadata: %v", err)
	}

	rootIb, err := buildExif(rec)
	if err != nil {
		return nil, err
	}
	if err := sl.SetExif(rootIb); err != nil {
		return nil, errs.New(errs.ErrorTypeEncoding, "failed to attach metadata: %v", err)
	}

	if rec.Spherical {
		sl = insertXMP(sl, []byte(gpanoXMP))
	}

	out := new(bytes.Buffer)
	if err := sl.Write(out); err != nil {
		return nil, errs.New(errs.ErrorTypeEncoding, "failed to serialize image: %v", err)
	}

	return out.Bytes(), nil
}

// HasGeoTag reports whether the bytes are a JPEG carrying an EXIF block.
// Used by resumption to decide whether an existing output is well-formed.
func HasGeoTag(data []byte) bool {
	jmp := jpegstructure.NewJpegMediaParser()
	intfc, err := jmp.ParseBytes(data)
	if err != nil {
		return false
	}
	sl := intfc.(*jpegstructure.SegmentList)
	_, _, err = sl.Exif()
	return err == nil
}

// buildExif assembles the IFD tree for a record. Tags are added in a fixed
// order; nothing derived from the wall clock is written.
func buildExif(rec *Record) (*exif.IfdBuilder, error) {
	im, err := exifcommon.NewIfdMappingWithStandard()
	if err != nil {
		return nil, errs.New(errs.ErrorTypeEncoding, "ifd mapping: %v", err)
	}
	ti := exif.NewTagIndex()
	rootIb := exif.NewIfdBuilder(im, ti, exifcommon.IfdStandardIfdIdentity, exifcommon.EncodeDefaultByteOrder)

	local := rec.localCaptureTime()
	dateTime := exifcommon.ExifFullTimestampString(local)

	if rec.CameraMake != "" {
		if err := rootIb.AddStandardWithName("Make", rec.CameraMake); err != nil {
			return nil, encodeErr("Make", err)
		}
	}
	if rec.CameraModel != "" {
		if err := rootIb.AddStandardWithName("Model", rec.CameraModel); err != nil {
			return nil, encodeErr("Model", err)
		}
	}
	if err := rootIb.AddStandardWithName("Software", "mapgrab"); err != nil {
		return nil, encodeErr("Software", err)
	}
	if err := rootIb.AddStandardWithName("DateTime", dateTime); err != nil {
		return nil, encodeErr("DateTime", err)
	}

	exifIb, err := exif.GetOrCreateIbFromRootIb(rootIb, "IFD/Exif")
	if err != nil {
		return nil, errs.New(errs.ErrorTypeEncoding, "exif ifd: %v", err)
	}

	subSec := fmt.Sprintf("%03d", int(math.Round(rec.SubSec.Float64()*1000)))
	exifTags := []struct {
		name  string
		value interface{}
	}{
		{"DateTimeOriginal", dateTime},
		{"DateTimeDigitized", dateTime},
		{"SubSecTimeOriginal", subSec},
		{"SubSecTimeDigitized", subSec},
	}
	for _, tag := range exifTags {
		if err := exifIb.AddStandardWithName(tag.name, tag.value); err != nil {
			return nil, encodeErr(tag.name, err)
		}
	}
	if rec.OffsetResolved() {
		if err := exifIb.AddStandardWithName("OffsetTimeOriginal", rec.UTCOffset); err != nil {
			return nil, encodeErr("OffsetTimeOriginal", err)
		}
	}
	comment := exifundefined.Tag9286UserComment{
		EncodingType:  exifundefined.TagUndefinedType_9286_UserComment_Encoding_ASCII,
		EncodingBytes: []byte(fmt.Sprintf("Mapillary image %s, sequence %s", rec.ImageID, rec.SequenceID)),
	}
	if err := exifIb.AddStandardWithName("UserComment", comment); err != nil {
		return nil, encodeErr("UserComment", err)
	}

	gpsIb, err := exif.GetOrCreateIbFromRootIb(rootIb, "IFD/GPSInfo")
	if err != nil {
		return nil, errs.New(errs.ErrorTypeEncoding, "gps ifd: %v", err)
	}

	if err := gpsIb.AddStandardWithName("GPSVersionID", []byte{2, 3, 0, 0}); err != nil {
		return nil, encodeErr("GPSVersionID", err)
	}

	latTriple, err := dmsTriple(rec.Latitude)
	if err != nil {
		return nil, err
	}
	lonTriple, err := dmsTriple(rec.Longitude)
	if err != nil {
		return nil, err
	}
	if err := gpsIb.AddStandardWithName("GPSLatitudeRef", rec.Latitude.Ref); err != nil {
		return nil, encodeErr("GPSLatitudeRef", err)
	}
	if err := gpsIb.AddStandardWithName("GPSLatitude", latTriple); err != nil {
		return nil, encodeErr("GPSLatitude", err)
	}
	if err := gpsIb.AddStandardWithName("GPSLongitudeRef", rec.Longitude.Ref); err != nil {
		return nil, encodeErr("GPSLongitudeRef", err)
	}
	if err := gpsIb.AddStandardWithName("GPSLongitude", lonTriple); err != nil {
		return nil, encodeErr("GPSLongitude", err)
	}

	if rec.Altitude != nil {
		ref := []byte{0}
		if rec.Altitude.BelowSea {
			ref = []byte{1}
		}
		alt, err := unsignedRational(rec.Altitude.Value)
		if err != nil {
			return nil, err
		}
		if err := gpsIb.AddStandardWithName("GPSAltitudeRef", ref); err != nil {
			return nil, encodeErr("GPSAltitudeRef", err)
		}
		if err := gpsIb.AddStandardWithName("GPSAltitude", []exifcommon.Rational{alt}); err != nil {
			return nil, encodeErr("GPSAltitude", err)
		}
	}

	utc := rec.Captured.UTC()
	gpsSeconds := Rational{
		Num: int64(utc.Second())*rec.SubSec.Den + rec.SubSec.Num,
		Den: rec.SubSec.Den,
	}
	secRat, err := unsignedRational(gpsSeconds)
	if err != nil {
		return nil, err
	}
	timeStamp := []exifcommon.Rational{
		{Numerator: uint32(utc.Hour()), Denominator: 1},
		{Numerator: uint32(utc.Minute()), Denominator: 1},
		secRat,
	}
	if err := gpsIb.AddStandardWithName("GPSTimeStamp", timeStamp); err != nil {
		return nil, encodeErr("GPSTimeStamp", err)
	}
	if err := gpsIb.AddStandardWithName("GPSDateStamp", utc.Format("2006:01:02")); err != nil {
		return nil, encodeErr("GPSDateStamp", err)
	}

	if rec.Bearing != nil {
		bearing, err := unsignedRational(*rec.Bearing)
		if err != nil {
			return nil, err
		}
		if err := gpsIb.AddStandardWithName("GPSImgDirectionRef", "T"); err != nil {
			return nil, encodeErr("GPSImgDirectionRef", err)
		}
		if err := gpsIb.AddStandardWithName("GPSImgDirection", []exifcommon.Rational{bearing}); err != nil {
			return nil, encodeErr("GPSImgDirection", err)
		}
	}

	return rootIb, nil
}

// localCaptureTime returns the capture instant in the resolved zone, or UTC
// when no zone was resolved.
func (r *Record) localCaptureTime() time.Time {
	if r.Zone != "" {
		if loc, err := time.LoadLocation(r.Zone); err == nil {
			return r.Captured.In(loc)
		}
	}
	return r.Captured.UTC()
}

func dmsTriple(d DMS) ([]exifcommon.Rational, error) {
	deg, err := unsignedRational(d.Degrees)
	if err != nil {
		return nil, err
	}
	min, err := unsignedRational(d.Minutes)
	if err != nil {
		return nil, err
	}
	sec, err := unsignedRational(d.Seconds)
	if err != nil {
		return nil, err
	}
	return []exifcommon.Rational{deg, min, sec}, nil
}

// unsignedRational converts to the 32-bit unsigned pair the GPS IFD requires.
func unsignedRational(r Rational) (exifcommon.Rational, error) {
	if r.Num < 0 || r.Den <= 0 || r.Num > math.MaxUint32 || r.Den > math.MaxUint32 {
		return exifcommon.Rational{}, errs.New(errs.ErrorTypeEncoding, "rational %s does not fit an unsigned 32-bit pair", r)
	}
	return exifcommon.Rational{Numerator: uint32(r.Num), Denominator: uint32(r.Den)}, nil
}

func encodeErr(tag string, err error) error {
	return errs.New(errs.ErrorTypeEncoding, "failed to encode %s: %v", tag, err)
}

// reencode decodes and re-encodes the JPEG at the given quality.
func reencode(data []byte, quality int) ([]byte, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errs.New(errs.ErrorTypeEncoding, "undecodable image payload: %v", err)
	}
	out := new(bytes.Buffer)
	if err := jpeg.Encode(out, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, errs.New(errs.ErrorTypeEncoding, "re-encode failed: %v", err)
	}
	return out.Bytes(), nil
}

// dropXMP removes any existing XMP APP1 segments.
func dropXMP(sl *jpegstructure.SegmentList) *jpegstructure.SegmentList {
	segments := sl.Segments()
	filtered := make([]*jpegstructure.Segment, 0, len(segments))
	for _, s := range segments {
		if isXMPSegment(s) {
			continue
		}
		filtered = append(filtered, s)
	}
	return jpegstructure.NewSegmentList(filtered)
}

// insertXMP places an XMP APP1 segment directly after the EXIF segment.
func insertXMP(sl *jpegstructure.SegmentList, payload []byte) *jpegstructure.SegmentList {
	segments := sl.Segments()
	xmp := &jpegstructure.Segment{MarkerId: jpegstructure.MARKER_APP1, Data: payload}

	at := 1 // after SOI, if no EXIF segment is found
	for i, s := range segments {
		if s.MarkerId == jpegstructure.MARKER_APP1 && bytes.HasPrefix(s.Data, []byte("Exif\x00\x00")) {
			at = i + 1
			break
		}
	}

	merged := make([]*jpegstructure.Segment, 0, len(segments)+1)
	merged = append(merged, segments[:at]...)
	merged = append(merged, xmp)
	merged = append(merged, segments[at:]...)
	return jpegstructure.NewSegmentList(merged)
}

func isXMPSegment(s *jpegstructure.Segment) bool {
	return s.MarkerId == jpegstructure.MARKER_APP1 && bytes.HasPrefix(s.Data, []byte(xmpNamespacePrefix))
}
