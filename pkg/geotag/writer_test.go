package geotag

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
	"time"

	exif "github.com/dsoprea/go-exif/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeTestJPEG(t *testing.T) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 8), G: uint8(y * 8), B: 128, A: 255})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func testRecord(t *testing.T) *Record {
	t.Helper()

	rec, err := Build(testDescriptor())
	require.NoError(t, err)
	return rec
}

// flatTags extracts all EXIF tags of the output as name -> formatted value.
func flatTags(t *testing.T, data []byte) map[string]string {
	t.Helper()

	rawExif, err := exif.SearchAndExtractExif(data)
	require.NoError(t, err)

	entries, _, err := exif.GetFlatExifData(rawExif, nil)
	require.NoError(t, err)

	tags := make(map[string]string, len(entries))
	for _, entry := range entries {
		tags[entry.TagName] = entry.Formatted
	}
	return tags
}

func TestEmbedWritesGPSAndTimeTags(t *testing.T) {
	out, err := Embed(makeTestJPEG(t), testRecord(t), 0)
	require.NoError(t, err)

	tags := flatTags(t, out)

	assert.Equal(t, "N", tags["GPSLatitudeRef"])
	assert.Equal(t, "W", tags["GPSLongitudeRef"])
	assert.Contains(t, tags, "GPSLatitude")
	assert.Contains(t, tags, "GPSLongitude")
	assert.Contains(t, tags, "GPSAltitude")
	assert.Contains(t, tags, "GPSAltitudeRef")
	assert.Equal(t, "T", tags["GPSImgDirectionRef"])
	assert.Contains(t, tags, "GPSImgDirection")
	assert.Equal(t, "2025:07:28", tags["GPSDateStamp"])
	assert.Contains(t, tags, "GPSTimeStamp")

	// Capture instant rendered in the resolved local zone.
	assert.Equal(t, "2025:07:28 11:07:30", tags["DateTimeOriginal"])
	assert.Equal(t, "120", tags["SubSecTimeOriginal"])
	assert.Equal(t, "-07:00", tags["OffsetTimeOriginal"])

	assert.Equal(t, "GoPro", tags["Make"])
	assert.Equal(t, "mapgrab", tags["Software"])
}

func TestEmbedIsIdempotent(t *testing.T) {
	rec := testRecord(t)
	source := makeTestJPEG(t)

	first, err := Embed(source, rec, 0)
	require.NoError(t, err)

	second, err := Embed(first, rec, 0)
	require.NoError(t, err)

	assert.True(t, bytes.Equal(first, second), "re-embedding the same record must be byte-identical")
}

func TestEmbedOmitsAbsentFields(t *testing.T) {
	desc := testDescriptor()
	desc.Altitude = nil
	desc.Bearing = nil
	rec, err := Build(desc)
	require.NoError(t, err)

	out, err := Embed(makeTestJPEG(t), rec, 0)
	require.NoError(t, err)

	tags := flatTags(t, out)
	assert.NotContains(t, tags, "GPSAltitude")
	assert.NotContains(t, tags, "GPSAltitudeRef")
	assert.NotContains(t, tags, "GPSImgDirection")
	assert.NotContains(t, tags, "GPSImgDirectionRef")
}

func TestEmbedOmitsOffsetWhenUnresolved(t *testing.T) {
	desc := testDescriptor()
	lat, lon := -48.5, -123.4
	desc.Latitude = &lat
	desc.Longitude = &lon
	rec, err := Build(desc)
	require.NoError(t, err)
	require.False(t, rec.OffsetResolved())

	out, err := Embed(makeTestJPEG(t), rec, 0)
	require.NoError(t, err)

	tags := flatTags(t, out)
	assert.NotContains(t, tags, "OffsetTimeOriginal")
	// Times fall back to UTC.
	assert.Equal(t, "2025:07:28 18:07:30", tags["DateTimeOriginal"])
}

func TestEmbedSphericalMarker(t *testing.T) {
	rec := testRecord(t)
	require.True(t, rec.Spherical)

	out, err := Embed(makeTestJPEG(t), rec, 0)
	require.NoError(t, err)
	assert.True(t, bytes.Contains(out, []byte(`GPano:ProjectionType="equirectangular"`)))

	flat := testRecord(t)
	flat.Spherical = false
	out, err = Embed(makeTestJPEG(t), flat, 0)
	require.NoError(t, err)
	assert.False(t, bytes.Contains(out, []byte("GPano")))
}

func TestEmbedReplacesExistingMetadata(t *testing.T) {
	source := makeTestJPEG(t)

	first, err := Embed(source, testRecord(t), 0)
	require.NoError(t, err)

	// Embed a different record over the first output; the old values must
	// be gone.
	desc := testDescriptor()
	desc.CapturedAt = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	other, err := Build(desc)
	require.NoError(t, err)

	out, err := Embed(first, other, 0)
	require.NoError(t, err)

	tags := flatTags(t, out)
	assert.Equal(t, "2024:01:02", tags["GPSDateStamp"])
}

func TestEmbedQualityReencode(t *testing.T) {
	source := makeTestJPEG(t)

	out, err := Embed(source, testRecord(t), 40)
	require.NoError(t, err)
	assert.True(t, HasGeoTag(out))

	_, err = Embed(source, testRecord(t), 101)
	assert.Error(t, err)

	_, err = Embed(source, testRecord(t), -1)
	assert.Error(t, err)
}

func TestEmbedRejectsGarbage(t *testing.T) {
	_, err := Embed([]byte("not a jpeg"), testRecord(t), 0)
	assert.Error(t, err)
}

func TestHasGeoTag(t *testing.T) {
	source := makeTestJPEG(t)
	assert.False(t, HasGeoTag(source))

	out, err := Embed(source, testRecord(t), 0)
	require.NoError(t, err)
	assert.True(t, HasGeoTag(out))

	assert.False(t, HasGeoTag([]byte("truncated")))
}
