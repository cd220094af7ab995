package mapillary

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	errs "mapgrab/pkg/errors"
	"mapgrab/pkg/logger"
	"mapgrab/pkg/ratelimit"
	"mapgrab/pkg/retry"
)

// ClientOptions configures a Graph API client.
type ClientOptions struct {
	AccessToken string
	BaseURL     string
	UserAgent   string
	Timeout     time.Duration
	MaxAttempts int
	Backoff     retry.BackoffStrategy
	Limiter     *ratelimit.TokenBucket
	Logger      logger.Logger
}

// Client is a Mapillary Graph API client. All outbound requests, API calls
// and CDN downloads alike, pass through one shared rate limiter, so a
// rate-limit response on any request slows down all of them.
type Client struct {
	httpClient  *http.Client
	accessToken string
	baseURL     string
	userAgent   string
	maxAttempts int
	backoff     retry.BackoffStrategy
	limiter     *ratelimit.TokenBucket
	logger      logger.Logger
}

// NewClient creates a new Graph API client.
func NewClient(opts ClientOptions) *Client {
	if opts.Logger == nil {
		opts.Logger = logger.GetLogger()
	}
	if opts.BaseURL == "" {
		opts.BaseURL = BaseURL
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "mapgrab/1.0"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 4
	}
	if opts.Backoff == nil {
		opts.Backoff = retry.DefaultExponentialBackoff()
	}
	if opts.Limiter == nil {
		opts.Limiter = ratelimit.NewTokenBucket(60, time.Minute)
	}

	return &Client{
		httpClient:  &http.Client{Timeout: opts.Timeout},
		accessToken: opts.AccessToken,
		baseURL:     opts.BaseURL,
		userAgent:   opts.UserAgent,
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.Backoff,
		limiter:     opts.Limiter,
		logger:      opts.Logger,
	}
}

// BaseURL returns the configured API base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// doRequest performs a single GET after clearing the shared rate limiter.
// authorized controls the Authorization header: API calls carry the token,
// CDN downloads use pre-signed URLs and must not.
func (c *Client) doRequest(ctx context.Context, url string, authorized bool) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errs.New(errs.ErrorTypeUnknown, "failed to create request: %v", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	if authorized {
		req.Header.Set("Authorization", "OAuth "+c.accessToken)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.ErrorWithFields("HTTP request failed", map[string]interface{}{
			"url":      url,
			"error":    err.Error(),
			"duration": duration,
		})
		return nil, errs.New(errs.ErrorTypeNetwork, "network error: %v", err)
	}

	logger.LogRequest(http.MethodGet, url, resp.StatusCode, float64(duration.Milliseconds()))

	return resp, nil
}

// checkResponseStatus maps a non-OK response to a typed error, raising the
// shared rate-limit penalty when the server asks us to back off.
func (c *Client) checkResponseStatus(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusUnauthorized, http.StatusForbidden:
		c.logger.WarnWithFields("authentication error", map[string]interface{}{
			"status": resp.StatusCode,
			"url":    resp.Request.URL.String(),
		})
		return errs.NewHTTP(errs.ErrorTypeAuth, resp.StatusCode, "access token rejected")
	case http.StatusNotFound:
		return errs.NewHTTP(errs.ErrorTypeNotFound, resp.StatusCode, "resource not found")
	case http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		c.limiter.Penalize(retryAfter)
		logger.LogRateLimit(resp.Request.URL.Path, int(retryAfter.Seconds()))
		return errs.NewHTTP(errs.ErrorTypeRateLimit, resp.StatusCode, "rate limit exceeded")
	default:
		if resp.StatusCode >= 500 {
			c.logger.ErrorWithFields("server error", map[string]interface{}{
				"status": resp.StatusCode,
				"url":    resp.Request.URL.String(),
			})
			return errs.NewHTTP(errs.ErrorTypeServerError, resp.StatusCode, "server error")
		}
		if resp.StatusCode >= 400 {
			return errs.NewHTTP(errs.ErrorTypeUnknown, resp.StatusCode, "unexpected status code: %d", resp.StatusCode)
		}
		return nil
	}
}

// parseRetryAfter reads a Retry-After header in seconds; zero when absent
// or unparseable, letting the limiter pick its own floor.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// getJSON performs a GET with retries and decodes the JSON response.
func (c *Client) getJSON(ctx context.Context, url string, target interface{}) error {
	return retry.Do(func() error {
		resp, err := c.doRequest(ctx, url, true)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if err := c.checkResponseStatus(resp); err != nil {
			return err
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return errs.NewHTTP(errs.ErrorTypeNetwork, resp.StatusCode, "failed to read response body: %v", err)
		}

		if err := json.Unmarshal(body, target); err != nil {
			bodyPreview := string(body)
			if len(bodyPreview) > 200 {
				bodyPreview = bodyPreview[:200] + "..."
			}
			c.logger.ErrorWithFields("failed to parse JSON response", map[string]interface{}{
				"url":          url,
				"status":       resp.StatusCode,
				"error":        err.Error(),
				"body_preview": bodyPreview,
			})
			return errs.NewHTTP(errs.ErrorTypeParsing, resp.StatusCode, "failed to parse JSON: %v", err)
		}

		return nil
	}, c.retryConfig(ctx))
}

func (c *Client) retryConfig(ctx context.Context) *retry.Config {
	return &retry.Config{
		MaxAttempts: c.maxAttempts,
		Backoff:     c.backoff,
		RetryIf:     retry.DefaultRetryIf,
		Context:     ctx,
		Logger:      c.logger,
	}
}

// FetchImageIDs lists the image ids of a sequence, in the order the service
// returns them.
func (c *Client) FetchImageIDs(ctx context.Context, sequenceID string) ([]string, error) {
	if !IsValidSequenceID(sequenceID) {
		return nil, errs.New(errs.ErrorTypeParsing, "invalid sequence id %q", sequenceID)
	}

	c.logger.DebugWithFields("fetching sequence image ids", map[string]interface{}{
		"sequence_id": sequenceID,
	})

	var response ImageIDsResponse
	if err := c.getJSON(ctx, GetImageIDsURL(c.baseURL, sequenceID), &response); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(response.Data))
	for _, entry := range response.Data {
		ids = append(ids, entry.ID)
	}

	c.logger.InfoWithFields("fetched sequence image ids", map[string]interface{}{
		"sequence_id": sequenceID,
		"count":       len(ids),
	})

	return ids, nil
}

// FetchImage fetches a single image record with the full field set.
func (c *Client) FetchImage(ctx context.Context, imageID string) (*Image, error) {
	var image Image
	if err := c.getJSON(ctx, GetImageURL(c.baseURL, imageID), &image); err != nil {
		return nil, err
	}

	return &image, nil
}

// FetchCreatorImages lists all images uploaded by a user, following paging
// cursors until the last page.
func (c *Client) FetchCreatorImages(ctx context.Context, username string) ([]Image, error) {
	var images []Image

	url := GetCreatorImagesURL(c.baseURL, username)
	for url != "" {
		var page ImagesPage
		if err := c.getJSON(ctx, url, &page); err != nil {
			return nil, err
		}
		images = append(images, page.Data...)
		url = page.Paging.Next
	}

	c.logger.InfoWithFields("fetched creator images", map[string]interface{}{
		"username": username,
		"count":    len(images),
	})

	return images, nil
}

// DownloadImage downloads the original-resolution image bytes from a
// pre-signed CDN URL. The URL embeds its own credentials, so no
// Authorization header is sent.
func (c *Client) DownloadImage(ctx context.Context, downloadURL string) ([]byte, error) {
	if downloadURL == "" {
		return nil, errs.New(errs.ErrorTypeNotFound, "image record carries no download URL")
	}

	return retry.DoWithResult(func() ([]byte, error) {
		resp, err := c.doRequest(ctx, downloadURL, false)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if err := c.checkResponseStatus(resp); err != nil {
			return nil, err
		}

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, errs.New(errs.ErrorTypeNetwork, "failed to download image: %v", err)
		}
		if len(data) == 0 {
			return nil, errs.New(errs.ErrorTypeNetwork, "empty image payload")
		}

		return data, nil
	}, c.retryConfig(ctx))
}
