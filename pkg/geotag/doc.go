// Package geotag converts image descriptors into EXIF metadata and embeds
// it into JPEG payloads.
//
// The package is split into three stages:
//
//   - BestRational finds the closest integer ratio to a decimal value under
//     a denominator bound, via the continued fraction expansion. EXIF GPS
//     fields are unsigned 32-bit rational pairs, and the usual fixed 1/100
//     scale throws away precision the source data has.
//   - Build assembles a Record from a descriptor: degree/minute/second
//     splits, altitude with sea-level reference, normalized bearing, the
//     capture instant with millisecond sub-seconds, and the capture
//     location's UTC offset resolved through an offline timezone index.
//   - Embed writes a Record into JPEG bytes as a fresh EXIF block, plus an
//     XMP projection marker for spherical captures. Embedding is
//     deterministic and idempotent.
//
// Records are built once, never mutated, and consumed exactly once.
package geotag
