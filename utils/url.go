package utils

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"terabot/internal"
)

// URLInfo contains parsed information from a TeraBox share URL
type URLInfo struct {
	OriginalURL string
	Domain      string
	Surl        string
}

// URLValidator handles URL validation and parsing for TeraBox share links
type URLValidator struct {
	allowedDomains []string
	domainKeywords []string
	urlPatterns    []*regexp.Regexp
}

// linkPattern matches candidate http(s) URLs inside free-form message text
var linkPattern = regexp.MustCompile(`https?://[^\s<>"']+`)

// NewURLValidator creates a new URL validator with predefined patterns
func NewURLValidator() *URLValidator {
	// TeraBox operates a large family of mirror domains
	allowedDomains := []string{
		"terabox.com",
		"www.terabox.com",
		"terabox.app",
		"www.terabox.app",
		"1024terabox.com",
		"www.1024terabox.com",
		"1024tera.com",
		"www.1024tera.com",
		"teraboxapp.com",
		"www.teraboxapp.com",
		"teraboxlink.com",
		"www.teraboxlink.com",
		"terasharelink.com",
		"www.terasharelink.com",
		"teraboxshare.com",
		"www.teraboxshare.com",
		"freeterabox.com",
		"www.freeterabox.com",
		"nephobox.com",
		"www.nephobox.com",
		"4funbox.com",
		"www.4funbox.com",
		"mirrobox.com",
		"www.mirrobox.com",
		"momerybox.com",
		"www.momerybox.com",
		"gibibox.com",
		"www.gibibox.com",
		"goaibox.com",
		"www.goaibox.com",
	}

	// Fallback keywords for mirror domains added faster than this list
	domainKeywords := []string{
		"terabox",
		"1024tera",
		"teraboxapp",
		"teraboxlink",
		"terasharelink",
		"nephobox",
		"4funbox",
		"mirrobox",
		"momerybox",
		"gibibox",
		"goaibox",
	}

	// Regex patterns for the share URL formats the mirrors serve
	patterns := []*regexp.Regexp{
		// Standard share URL: https://<domain>/s/1AbC123
		regexp.MustCompile(`^https?://[^/]+/s/([a-zA-Z0-9_-]+)(?:\?.*)?$`),

		// Sharing link URL: https://<domain>/sharing/link?surl=AbC123
		regexp.MustCompile(`^https?://[^/]+/sharing/link\?.*surl=([a-zA-Z0-9_-]+)(?:&.*)?$`),

		// Web share URL: https://<domain>/web/share/link?surl=AbC123
		regexp.MustCompile(`^https?://[^/]+/web/share/link\?.*surl=([a-zA-Z0-9_-]+)(?:&.*)?$`),
	}

	return &URLValidator{
		allowedDomains: allowedDomains,
		domainKeywords: domainKeywords,
		urlPatterns:    patterns,
	}
}

// ValidateURL validates if the URL is a TeraBox share link
func (v *URLValidator) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return internal.NewValidationError("url", "URL cannot be empty")
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return internal.NewValidationError("url", fmt.Sprintf("invalid URL format: %v", err))
	}

	// Check if the scheme is http or https
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return internal.NewValidationError("url", "URL must use http or https protocol")
	}

	// Normalize the host (remove port if present)
	host := strings.ToLower(parsedURL.Hostname())

	// Check if the domain is allowed
	for _, allowedDomain := range v.allowedDomains {
		if host == allowedDomain {
			return nil
		}
	}

	// Keyword fallback for mirror domains not in the list
	for _, keyword := range v.domainKeywords {
		if strings.Contains(host, keyword) {
			return nil
		}
	}

	return internal.NewInvalidURLError(rawURL,
		fmt.Sprintf("URL must be from a TeraBox domain, got: %s", host))
}

// ParseURL extracts the surl identifier from a TeraBox share URL
func (v *URLValidator) ParseURL(rawURL string) (*URLInfo, error) {
	// First validate the URL
	if err := v.ValidateURL(rawURL); err != nil {
		return nil, err
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, internal.NewValidationError("url", fmt.Sprintf("failed to parse URL: %v", err))
	}

	urlInfo := &URLInfo{
		OriginalURL: rawURL,
		Domain:      strings.ToLower(parsedURL.Hostname()),
	}

	// Try to match against known patterns
	for _, pattern := range v.urlPatterns {
		matches := pattern.FindStringSubmatch(rawURL)
		if len(matches) > 1 {
			urlInfo.Surl = matches[1]
			return urlInfo, nil
		}
	}

	// If no pattern matched, try the surl query parameter directly
	if surl := parsedURL.Query().Get("surl"); surl != "" {
		urlInfo.Surl = surl
		return urlInfo, nil
	}

	return nil, internal.NewInvalidURLError(rawURL, "unable to extract surl from URL")
}

// ExtractShareLinks scans free-form message text and returns every TeraBox
// share link it contains, in order of appearance.
func (v *URLValidator) ExtractShareLinks(text string) []string {
	var links []string
	for _, candidate := range linkPattern.FindAllString(text, -1) {
		// Telegram message text often carries trailing punctuation
		candidate = strings.TrimRight(candidate, ".,;:!)")
		if v.ValidateURL(candidate) == nil {
			links = append(links, candidate)
		}
	}
	return links
}

// GetShareURL normalizes a URL to the canonical share format
func (v *URLValidator) GetShareURL(urlInfo *URLInfo) string {
	if urlInfo.Surl != "" {
		return fmt.Sprintf("https://terabox.com/s/%s", urlInfo.Surl)
	}
	return urlInfo.OriginalURL
}

// GetIdentifier returns the share identifier
func (urlInfo *URLInfo) GetIdentifier() string {
	return urlInfo.Surl
}

// String returns a string representation of the URLInfo
func (urlInfo *URLInfo) String() string {
	return fmt.Sprintf("URLInfo{Domain: %s, Surl: %s}", urlInfo.Domain, urlInfo.Surl)
}
