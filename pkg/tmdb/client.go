// Package tmdb provides a client for The Movie Database REST API.
package tmdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/cinecard/cinecard/internal/resilience"
)

const (
	defaultBaseURL      = "https://api.themoviedb.org/3"
	defaultImageBaseURL = "https://image.tmdb.org/t/p"
)

// Client defines the TMDB operations used by ingestion and discovery.
type Client interface {
	MovieDetails(ctx context.Context, id int64) (*MovieDetails, error)
	Credits(ctx context.Context, id int64) (*Credits, error)
	Videos(ctx context.Context, id int64) (*Videos, error)
	Similar(ctx context.Context, id int64) (*ListPage, error)
	ReleaseDates(ctx context.Context, id int64) (*ReleaseDates, error)
	Images(ctx context.Context, id int64) (*Images, error)
	List(ctx context.Context, kind ListKind, page int) (*ListPage, error)
}

// StatusError is returned for any non-2xx response.
type StatusError struct {
	StatusCode int
	Path       string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("tmdb: %s returned status %d: %s", e.Path, e.StatusCode, e.Body)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// Option configures the TMDB client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithLanguage sets the language query parameter sent with every request.
func WithLanguage(lang string) Option {
	return func(c *httpClient) {
		c.language = lang
	}
}

// WithRateLimit paces outgoing requests. A non-positive rps disables pacing.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *httpClient) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRetryPolicy overrides the retry policy for transient failures.
func WithRetryPolicy(p resilience.RetryPolicy) Option {
	return func(c *httpClient) {
		c.retry = p
	}
}

// WithBreaker routes every request through a circuit breaker.
func WithBreaker(b *resilience.Breaker) Option {
	return func(c *httpClient) {
		c.breaker = b
	}
}

type httpClient struct {
	apiKey   string
	baseURL  string
	language string
	http     *http.Client
	limiter  *rate.Limiter
	retry    resilience.RetryPolicy
	breaker  *resilience.Breaker
}

// NewClient creates a new TMDB client authenticating with an API key.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:   apiKey,
		baseURL:  defaultBaseURL,
		language: "en-US",
		http: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(20), 5),
		retry:   resilience.DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry.OnRetry == nil {
		c.retry.OnRetry = resilience.LogRetry("tmdb", "get")
	}
	return c
}

// ImageURL builds a provider image URL for a file path at a given size
// (w342, w780, original, ...). An empty path yields an empty URL.
func ImageURL(base, size, path string) string {
	if path == "" {
		return ""
	}
	if base == "" {
		base = defaultImageBaseURL
	}
	return strings.TrimRight(base, "/") + "/" + size + "/" + strings.TrimLeft(path, "/")
}

func (c *httpClient) MovieDetails(ctx context.Context, id int64) (*MovieDetails, error) {
	var out MovieDetails
	if err := c.get(ctx, fmt.Sprintf("/movie/%d", id), nil, &out); err != nil {
		return nil, eris.Wrapf(err, "tmdb: movie details %d", id)
	}
	return &out, nil
}

func (c *httpClient) Credits(ctx context.Context, id int64) (*Credits, error) {
	var out Credits
	if err := c.get(ctx, fmt.Sprintf("/movie/%d/credits", id), nil, &out); err != nil {
		return nil, eris.Wrapf(err, "tmdb: credits %d", id)
	}
	return &out, nil
}

func (c *httpClient) Videos(ctx context.Context, id int64) (*Videos, error) {
	var out Videos
	// Trailers are frequently only published in English.
	params := url.Values{"include_video_language": {"en,null"}}
	if err := c.get(ctx, fmt.Sprintf("/movie/%d/videos", id), params, &out); err != nil {
		return nil, eris.Wrapf(err, "tmdb: videos %d", id)
	}
	return &out, nil
}

func (c *httpClient) Similar(ctx context.Context, id int64) (*ListPage, error) {
	var out ListPage
	if err := c.get(ctx, fmt.Sprintf("/movie/%d/similar", id), nil, &out); err != nil {
		return nil, eris.Wrapf(err, "tmdb: similar %d", id)
	}
	return &out, nil
}

func (c *httpClient) ReleaseDates(ctx context.Context, id int64) (*ReleaseDates, error) {
	var out ReleaseDates
	if err := c.get(ctx, fmt.Sprintf("/movie/%d/release_dates", id), nil, &out); err != nil {
		return nil, eris.Wrapf(err, "tmdb: release dates %d", id)
	}
	return &out, nil
}

func (c *httpClient) Images(ctx context.Context, id int64) (*Images, error) {
	var out Images
	params := url.Values{"include_image_language": {"en,null"}}
	if err := c.get(ctx, fmt.Sprintf("/movie/%d/images", id), params, &out); err != nil {
		return nil, eris.Wrapf(err, "tmdb: images %d", id)
	}
	return &out, nil
}

func (c *httpClient) List(ctx context.Context, kind ListKind, page int) (*ListPage, error) {
	switch kind {
	case ListPopular, ListNowPlaying, ListTrending:
	default:
		return nil, eris.Errorf("tmdb: unknown list %q", kind)
	}
	if page < 1 {
		page = 1
	}
	var out ListPage
	params := url.Values{"page": {strconv.Itoa(page)}}
	if err := c.get(ctx, kind.path(), params, &out); err != nil {
		return nil, eris.Wrapf(err, "tmdb: list %s page %d", kind, page)
	}
	return &out, nil
}

// get issues a paced, retried GET and decodes the JSON body into out.
func (c *httpClient) get(ctx context.Context, path string, params url.Values, out any) error {
	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("api_key", c.apiKey)
	if c.language != "" && q.Get("language") == "" {
		q.Set("language", c.language)
	}
	reqURL := c.baseURL + path + "?" + q.Encode()

	body, err := resilience.Retry(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		if c.breaker != nil {
			return resilience.Call(ctx, c.breaker, func(ctx context.Context) ([]byte, error) {
				return c.do(ctx, path, reqURL)
			})
		}
		return c.do(ctx, path, reqURL)
	})
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrap(err, "tmdb: decode response")
	}
	return nil
}

func (c *httpClient) do(ctx context.Context, path, reqURL string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "tmdb: rate limit wait")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "tmdb: create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.Transient(eris.Wrap(err, "tmdb: request failed"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, resilience.Transient(eris.Wrap(err, "tmdb: read response body"), resp.StatusCode)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := string(body)
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		serr := &StatusError{StatusCode: resp.StatusCode, Path: path, Body: snippet}
		if resilience.IsTransientStatus(resp.StatusCode) {
			return nil, resilience.Transient(serr, resp.StatusCode)
		}
		return nil, serr
	}

	return body, nil
}
