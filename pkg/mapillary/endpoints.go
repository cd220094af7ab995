package mapillary

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	// BaseURL is the base URL of the Mapillary Graph API
	BaseURL = "https://graph.mapillary.com"

	// ImageIDsEndpoint lists the image ids of a sequence
	ImageIDsEndpoint = "/image_ids"

	// ImagesEndpoint lists images filtered by creator
	ImagesEndpoint = "/images"

	// CreatorPageLimit is the page size used when listing a creator's images
	CreatorPageLimit = 100
)

// ImageFields is the field set requested for every image record. Requesting
// them explicitly is required; the Graph API returns only the id by default.
var ImageFields = []string{
	"id",
	"captured_at",
	"compass_angle",
	"computed_compass_angle",
	"geometry",
	"computed_geometry",
	"altitude",
	"computed_altitude",
	"make",
	"model",
	"camera_type",
	"is_pano",
	"thumb_original_url",
	"sequence",
	"creator",
}

// GetImageIDsURL constructs the URL listing the image ids of a sequence.
func GetImageIDsURL(baseURL, sequenceID string) string {
	params := url.Values{}
	params.Set("sequence_id", sequenceID)

	return fmt.Sprintf("%s%s?%s", baseURL, ImageIDsEndpoint, params.Encode())
}

// GetImageURL constructs the URL fetching a single image record with the
// full field set.
func GetImageURL(baseURL, imageID string) string {
	params := url.Values{}
	params.Set("fields", strings.Join(ImageFields, ","))

	return fmt.Sprintf("%s/%s?%s", baseURL, imageID, params.Encode())
}

// GetCreatorImagesURL constructs the URL for the first page of a creator's
// images. Subsequent pages come from the paging.next cursor.
func GetCreatorImagesURL(baseURL, username string) string {
	params := url.Values{}
	params.Set("creator_username", username)
	params.Set("fields", strings.Join(ImageFields, ","))
	params.Set("limit", fmt.Sprintf("%d", CreatorPageLimit))

	return fmt.Sprintf("%s%s?%s", baseURL, ImagesEndpoint, params.Encode())
}

// IsValidSequenceID checks that a sequence id has the shape the API hands
// out: a non-empty token of letters, digits, underscores and dashes.
func IsValidSequenceID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}

	for _, char := range id {
		if !((char >= 'a' && char <= 'z') ||
			(char >= 'A' && char <= 'Z') ||
			(char >= '0' && char <= '9') ||
			char == '_' || char == '-') {
			return false
		}
	}

	return true
}
