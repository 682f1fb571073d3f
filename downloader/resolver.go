package downloader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"terabot/internal"
	"terabot/utils"
)

// APIResolver implements internal.LinkResolver against third-party resolver
// endpoints. Each endpoint takes the share URL as a query argument and
// returns JSON carrying the direct CDN link plus basic file metadata.
type APIResolver struct {
	httpClient   *utils.HTTPClient
	urlValidator *utils.URLValidator
	endpoints    []string
	timeout      time.Duration
}

// resolverResponse covers the field variants the public resolver services
// use. Different deployments name the direct link differently.
type resolverResponse struct {
	DirectLink string `json:"direct_link"`
	URL        string `json:"url"`
	Link       string `json:"link"`
	FileName   string `json:"file_name"`
	Thumb      string `json:"thumb"`
	Size       string `json:"size"`
}

func (r *resolverResponse) directURL() string {
	switch {
	case r.DirectLink != "":
		return r.DirectLink
	case r.URL != "":
		return r.URL
	default:
		return r.Link
	}
}

// NewAPIResolver creates a resolver that tries the given endpoints in order.
// Each endpoint string is a prefix the share URL is appended to.
func NewAPIResolver(endpoints []string, timeout time.Duration, httpClient *utils.HTTPClient) *APIResolver {
	if httpClient == nil {
		httpClient = utils.NewHTTPClient()
	}
	return &APIResolver{
		httpClient:   httpClient,
		urlValidator: utils.NewURLValidator(),
		endpoints:    endpoints,
		timeout:      timeout,
	}
}

// Resolve turns a TeraBox share link into a direct download link.
// Endpoints are tried in order; the first response with a usable direct
// link wins. Exhausting every endpoint is an expected miss reported as
// ok=false, not an error. Context cancellation is an error.
func (r *APIResolver) Resolve(ctx context.Context, shareURL string) (*internal.ResolvedLink, bool, error) {
	if err := r.urlValidator.ValidateURL(shareURL); err != nil {
		return nil, false, err
	}

	for _, endpoint := range r.endpoints {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}

		link, err := r.tryEndpoint(ctx, endpoint, shareURL)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil, false, err
			}
			internal.LogWarn("Resolver endpoint failed for %s: %v", shareURL, err)
			continue
		}
		if link != nil {
			internal.LogDebug("Resolved %s to %s", shareURL, link.FileName)
			return link, true, nil
		}
	}

	internal.LogInfo("All resolver endpoints exhausted for %s", shareURL)
	return nil, false, nil
}

// tryEndpoint queries a single resolver endpoint with a per-attempt timeout.
// A nil link with nil error means the endpoint answered without a usable
// direct link.
func (r *APIResolver) tryEndpoint(ctx context.Context, endpoint, shareURL string) (*internal.ResolvedLink, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resp, err := r.httpClient.GetWithContext(attemptCtx, endpoint+shareURL, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read resolver response: %w", err)
	}

	var parsed resolverResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, internal.NewPipelineError(internal.StageResolve,
			"resolver returned malformed JSON", internal.ErrInvalidResponse).WithCause(err)
	}

	directURL := parsed.directURL()
	if directURL == "" {
		return nil, nil
	}

	return &internal.ResolvedLink{
		DirectURL:    directURL,
		FileName:     parsed.FileName,
		ThumbnailURL: parsed.Thumb,
		SizeText:     parsed.Size,
	}, nil
}
