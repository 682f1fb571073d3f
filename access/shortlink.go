package access

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"

	"terabot/internal"
	"terabot/utils"
)

// Shortener wraps a long URL through a URL-shortener service.
type Shortener interface {
	Shorten(ctx context.Context, longURL string) (string, error)
}

// ShortlinkClient talks to an adlink shortener API of the common
// `GET /api?api=KEY&url=LONG` shape.
type ShortlinkClient struct {
	baseURL string
	apiKey  string
	http    *utils.HTTPClient
}

type shortlinkResponse struct {
	Status       string `json:"status"`
	ShortenedURL string `json:"shortenedUrl"`
	Message      string `json:"message"`
}

// NewShortlinkClient creates a client for the configured shortener service.
func NewShortlinkClient(baseURL, apiKey string, httpClient *utils.HTTPClient) *ShortlinkClient {
	return &ShortlinkClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    httpClient,
	}
}

// Shorten wraps longURL and returns the monetized short link. When the
// service misbehaves the original URL still works as a verify link, so the
// caller may fall back to it.
func (c *ShortlinkClient) Shorten(ctx context.Context, longURL string) (string, error) {
	base := c.baseURL
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	apiURL := fmt.Sprintf("%s/api?api=%s&url=%s",
		base, url.QueryEscape(c.apiKey), url.QueryEscape(longURL))

	resp, err := c.http.GetWithContext(ctx, apiURL, nil)
	if err != nil {
		return "", fmt.Errorf("shortlink request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read shortlink response: %w", err)
	}

	var parsed shortlinkResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", internal.NewPipelineError(internal.StageResolve,
			"shortlink service returned malformed JSON", internal.ErrInvalidResponse).WithCause(err)
	}

	if parsed.ShortenedURL == "" {
		return "", fmt.Errorf("shortlink service returned no URL (status=%s message=%s)",
			parsed.Status, parsed.Message)
	}

	return parsed.ShortenedURL, nil
}

// NoopShortener returns the long URL unchanged. Used when no shortener
// service is configured.
type NoopShortener struct{}

func (NoopShortener) Shorten(_ context.Context, longURL string) (string, error) {
	return longURL, nil
}
