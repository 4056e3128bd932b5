// Package unfurl fetches a web page and extracts its preview metadata.
package unfurl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	DefaultTimeout   = 8 * time.Second
	DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	maxBodyBytes     = 2 << 20
)

var (
	ErrMalformedURL   = errors.New("malformed url")
	ErrUpstreamStatus = errors.New("upstream status")
	ErrFetchFailed    = errors.New("fetch failed")
)

// UpstreamStatusError reports a non-2xx response from the target.
type UpstreamStatusError struct {
	Status int
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("upstream responded with status %d", e.Status)
}

func (e *UpstreamStatusError) Is(target error) bool { return target == ErrUpstreamStatus }

// Result is the metadata of one page. Missing fields are nil.
type Result struct {
	URL         string  `json:"url"`
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Image       *string `json:"image,omitempty"`
}

// Unfurler resolves a URL to its metadata.
type Unfurler interface {
	Unfurl(ctx context.Context, rawURL string) (Result, error)
}

type Options struct {
	Timeout   time.Duration
	UserAgent string
	// RetryMax is the number of retries after a transport error or a 5xx.
	RetryMax   int
	HTTPClient *http.Client
}

// Client is the HTTP unfurler.
type Client struct {
	http      *retryablehttp.Client
	timeout   time.Duration
	userAgent string
}

func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	rc := retryablehttp.NewClient()
	rc.RetryMax = opts.RetryMax
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = time.Second
	rc.Logger = nil
	// keep the last response so its status can be reported
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	if opts.HTTPClient != nil {
		rc.HTTPClient = opts.HTTPClient
	}
	return &Client{http: rc, timeout: opts.Timeout, userAgent: opts.UserAgent}
}

// Normalize parses rawURL, prepending https:// when it has no usable scheme.
func Normalize(rawURL string) (*url.URL, error) {
	raw := strings.TrimSpace(rawURL)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", ErrMalformedURL)
	}
	u, err := url.Parse(raw)
	if err == nil && u.Host != "" && !isWeb(u) {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrMalformedURL, u.Scheme)
	}
	if err != nil || !isWeb(u) {
		u, err = url.Parse("https://" + raw)
		if err != nil || !isWeb(u) {
			return nil, fmt.Errorf("%w: %q", ErrMalformedURL, rawURL)
		}
	}
	return u, nil
}

func isWeb(u *url.URL) bool {
	return (u.Scheme == "http" || u.Scheme == "https") && u.Hostname() != ""
}

// Unfurl fetches rawURL and extracts title, description and image.
func (c *Client) Unfurl(ctx context.Context, rawURL string) (Result, error) {
	target, err := Normalize(rawURL)
	if err != nil {
		return Result{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedURL, err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, &UpstreamStatusError{Status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Result{}, fmt.Errorf("%w: read body: %v", ErrFetchFailed, err)
	}
	final := target
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL
	}
	meta := Extract(string(body), final)
	meta.URL = target.String()
	return meta, nil
}
