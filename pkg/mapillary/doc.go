// Package mapillary implements a client for the Mapillary Graph API.
//
// The client covers the three read paths the downloader needs: listing the
// image ids of a sequence, fetching full image records, and downloading
// original-resolution image bytes from pre-signed CDN URLs. Every request,
// API or CDN, passes through a single shared token-bucket limiter, and
// rate-limit responses raise a shared penalty delay that slows all
// subsequent requests.
//
// Usage:
//
//	client := mapillary.NewClient(mapillary.ClientOptions{
//		AccessToken: token,
//		Limiter:     ratelimit.NewTokenBucket(60, time.Minute),
//	})
//
//	ids, err := client.FetchImageIDs(ctx, sequenceID)
//	img, err := client.FetchImage(ctx, ids[0])
//	data, err := client.DownloadImage(ctx, img.ThumbOriginalURL)
package mapillary
