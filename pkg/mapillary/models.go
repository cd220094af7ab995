package mapillary

import (
	"strings"
	"time"
)

// Geometry is a GeoJSON point as returned by the Graph API.
// Coordinates are ordered longitude, latitude.
type Geometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// Image is the per-image record returned by the Graph API.
// The computed_* fields are the service's post-processed, higher-accuracy
// estimates and are preferred over the raw sensor values when present.
type Image struct {
	ID                   string    `json:"id"`
	CapturedAt           int64     `json:"captured_at"` // epoch milliseconds
	CompassAngle         *float64  `json:"compass_angle"`
	ComputedCompassAngle *float64  `json:"computed_compass_angle"`
	Geometry             *Geometry `json:"geometry"`
	ComputedGeometry     *Geometry `json:"computed_geometry"`
	Altitude             *float64  `json:"altitude"`
	ComputedAltitude     *float64  `json:"computed_altitude"`
	Make                 string    `json:"make"`
	Model                string    `json:"model"`
	CameraType           string    `json:"camera_type"`
	IsPano               bool      `json:"is_pano"`
	ThumbOriginalURL     string    `json:"thumb_original_url"`
	SequenceID           string    `json:"sequence"`
	Creator              *Creator  `json:"creator"`
}

// Creator identifies the uploading user.
type Creator struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// ImageID is one element of an image id listing.
type ImageID struct {
	ID string `json:"id"`
}

// ImageIDsResponse is the response of the image_ids endpoint.
type ImageIDsResponse struct {
	Data []ImageID `json:"data"`
}

// ImagesPage is one page of an images listing, with cursor-style paging.
type ImagesPage struct {
	Data   []Image `json:"data"`
	Paging Paging  `json:"paging"`
}

// Paging carries the absolute URL of the next page, empty on the last page.
type Paging struct {
	Next string `json:"next"`
}

// ImageDescriptor is the resolved, immutable description of one image to
// download. It is constructed once from an API record and never mutated.
type ImageDescriptor struct {
	ID          string
	SequenceID  string
	DownloadURL string

	// Decimal degrees; nil when the API record carried no geometry.
	Latitude  *float64
	Longitude *float64

	// Meters relative to sea level; nil when unknown. Zero is a valid
	// altitude and is distinct from absent.
	Altitude *float64

	// Compass bearing in decimal degrees; nil when unknown.
	Bearing *float64

	CapturedAt time.Time // UTC, millisecond resolution

	CameraMake  string
	CameraModel string
	Spherical   bool
}

// ToDescriptor converts an API image record into an immutable descriptor,
// preferring computed geometry and bearing over the raw sensor values.
func (img *Image) ToDescriptor() *ImageDescriptor {
	d := &ImageDescriptor{
		ID:          img.ID,
		SequenceID:  img.SequenceID,
		DownloadURL: img.ThumbOriginalURL,
		CapturedAt:  time.UnixMilli(img.CapturedAt).UTC(),
		CameraMake:  img.Make,
		CameraModel: img.Model,
		Spherical:   img.IsSpherical(),
	}

	geom := img.ComputedGeometry
	if geom == nil {
		geom = img.Geometry
	}
	if geom != nil && len(geom.Coordinates) >= 2 {
		lon, lat := geom.Coordinates[0], geom.Coordinates[1]
		d.Longitude = &lon
		d.Latitude = &lat
	}

	if img.ComputedAltitude != nil {
		d.Altitude = img.ComputedAltitude
	} else if img.Altitude != nil {
		d.Altitude = img.Altitude
	}

	if img.ComputedCompassAngle != nil {
		d.Bearing = img.ComputedCompassAngle
	} else if img.CompassAngle != nil {
		d.Bearing = img.CompassAngle
	}

	return d
}

// IsSpherical reports whether the image is 360 content.
func (img *Image) IsSpherical() bool {
	if img.IsPano {
		return true
	}
	switch strings.ToLower(img.CameraType) {
	case "spherical", "equirectangular":
		return true
	}
	return false
}
