package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Common errors.
var (
	ErrNotFound         = errors.New("http: resource not found")
	ErrForbidden        = errors.New("http: access forbidden")
	ErrUnauthorized     = errors.New("http: unauthorized")
	ErrServerError      = errors.New("http: server error")
	ErrTooManyRedirects = errors.New("http: too many redirects")
)

// AuthError is returned for 401/403 responses. Reason carries a best-effort
// diagnosis obtained from an unauthenticated probe request, so the caller
// can tell a bad token apart from a gated repository.
type AuthError struct {
	StatusCode int
	URL        string
	Reason     string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("http: status %d for %s: %s", e.StatusCode, e.URL, e.Reason)
}

// Unwrap maps the status code onto the matching sentinel error so callers
// can keep using errors.Is.
func (e *AuthError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	return ErrForbidden
}

// Options configures the HTTP client.
type Options struct {
	// ConnectTimeout bounds connection establishment. A stalled connect
	// should fail fast into the caller's retry path.
	// Default: 15s
	ConnectTimeout time.Duration

	// ReadTimeout bounds a single response body read. Generous because
	// payloads run into the gigabytes.
	// Default: 2m
	ReadTimeout time.Duration

	// MaxRedirects caps manual redirect hops.
	// Default: 10
	MaxRedirects int

	// Token is attached as "Authorization: Bearer <token>" when non-empty,
	// and re-attached on every redirect hop.
	Token string

	// UserAgent overrides the default browser-like User-Agent. Some hosts
	// reject obviously non-browser clients.
	UserAgent string
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		ConnectTimeout: 15 * time.Second,
		ReadTimeout:    2 * time.Minute,
		MaxRedirects:   10,
		UserAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 " +
			"(KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	}
}

// FileInfo contains metadata about a remote file.
type FileInfo struct {
	Size          int64
	AcceptsRanges bool
	ContentType   string
}

// Client is an HTTP client that follows redirects manually so that
// Authorization and Range headers survive host changes.
type Client struct {
	client *http.Client
	opts   Options
}

// NewClient creates a new HTTP client with the given options.
func NewClient(opts Options) *Client {
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = DefaultOptions().ConnectTimeout
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = DefaultOptions().ReadTimeout
	}
	if opts.MaxRedirects == 0 {
		opts.MaxRedirects = DefaultOptions().MaxRedirects
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultOptions().UserAgent
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: opts.ConnectTimeout,
		}).DialContext,
		ResponseHeaderTimeout: opts.ReadTimeout,
		IdleConnTimeout:       90 * time.Second,
		DisableCompression:    true, // We want raw bytes for range requests
	}

	return &Client{
		client: &http.Client{
			Transport: transport,
			// No automatic redirects: Authorization would be dropped
			// across hosts. Redirects are handled in Get/Head.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		opts: opts,
	}
}

// Get opens a download for url, resuming from offset when offset > 0.
//
// Redirects (301/302/303/307/308) are followed manually with Authorization
// and Range re-attached on every hop. Terminal 200/206/416 responses are
// returned to the caller with a live body; the caller owns interpreting the
// status (206 honored range, 200 ignored it, 416 file already complete) and
// closing the body. 401/403/404 are turned into diagnosed errors.
func (c *Client) Get(ctx context.Context, url string, offset int64) (*http.Response, error) {
	return c.do(ctx, http.MethodGet, url, offset)
}

// Head fetches metadata about a remote file, following redirects the same
// way Get does.
func (c *Client) Head(ctx context.Context, url string) (*FileInfo, error) {
	resp, err := c.do(ctx, http.MethodHead, url, 0)
	if err != nil {
		return nil, err
	}
	resp.Body.Close()

	return &FileInfo{
		Size:          resp.ContentLength,
		AcceptsRanges: resp.Header.Get("Accept-Ranges") == "bytes",
		ContentType:   resp.Header.Get("Content-Type"),
	}, nil
}

func (c *Client) do(ctx context.Context, method, url string, offset int64) (*http.Response, error) {
	for hop := 0; hop <= c.opts.MaxRedirects; hop++ {
		req, err := http.NewRequestWithContext(ctx, method, url, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		c.setHeaders(req, offset)

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request %s: %w", url, err)
		}

		switch {
		case isRedirect(resp.StatusCode):
			loc := resp.Header.Get("Location")
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			if loc == "" {
				return nil, fmt.Errorf("http: redirect %d from %s without Location", resp.StatusCode, url)
			}
			next, err := resp.Request.URL.Parse(loc)
			if err != nil {
				return nil, fmt.Errorf("http: invalid redirect Location %q: %w", loc, err)
			}
			url = next.String()

		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return resp, nil

		case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
			// The requested offset is at or past the end of the
			// resource, meaning the local file is already complete.
			return resp, nil

		case resp.StatusCode == http.StatusNotFound:
			resp.Body.Close()
			return nil, fmt.Errorf("%s: %w", url, ErrNotFound)

		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			resp.Body.Close()
			return nil, &AuthError{
				StatusCode: resp.StatusCode,
				URL:        url,
				Reason:     c.diagnose(ctx, url, resp.StatusCode),
			}

		case resp.StatusCode >= 500:
			resp.Body.Close()
			return nil, fmt.Errorf("%w: %d %s", ErrServerError, resp.StatusCode, resp.Status)

		default:
			resp.Body.Close()
			return nil, fmt.Errorf("http: unexpected status code %d for %s", resp.StatusCode, url)
		}
	}

	return nil, fmt.Errorf("%w: gave up after %d hops for %s", ErrTooManyRedirects, c.opts.MaxRedirects, url)
}

func (c *Client) setHeaders(req *http.Request, offset int64) {
	req.Header.Set("User-Agent", c.opts.UserAgent)
	if c.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.Token)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}
}

// diagnose issues an unauthenticated probe to tell apart the likely causes
// of a 401/403. Best effort only: any probe failure falls back to a generic
// message.
func (c *Client) diagnose(ctx context.Context, url string, status int) string {
	if c.opts.Token == "" {
		return "no access token configured; the resource requires authentication"
	}

	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, url, nil)
	if err != nil {
		return "access denied"
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return "access denied"
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized && status == http.StatusUnauthorized:
		return "access token appears invalid or expired"
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "resource appears gated; accept the model license on the hosting site first"
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return "access token was rejected but the resource is publicly readable; try without a token"
	default:
		return "access denied"
	}
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently,
		http.StatusFound,
		http.StatusSeeOther,
		http.StatusTemporaryRedirect,
		http.StatusPermanentRedirect:
		return true
	}
	return false
}

// ParseContentRange parses a Content-Range header value.
// Returns start, end, total bytes. Total may be -1 if unknown.
func ParseContentRange(header string) (start, end, total int64, err error) {
	// Format: bytes start-end/total or bytes start-end/*
	header = strings.TrimPrefix(header, "bytes ")
	parts := strings.Split(header, "/")
	if len(parts) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}

	rangeParts := strings.Split(parts[0], "-")
	if len(rangeParts) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}

	start, err = strconv.ParseInt(rangeParts[0], 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid start byte: %w", err)
	}

	end, err = strconv.ParseInt(rangeParts[1], 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid end byte: %w", err)
	}

	if parts[1] == "*" {
		total = -1
	} else {
		total, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("invalid total bytes: %w", err)
		}
	}

	return start, end, total, nil
}
