package source

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"

	"github.com/i474232898/radar-cache/internal/common"
	"github.com/i474232898/radar-cache/internal/radar"
)

// Config configures an HTTPSource.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	Backoff   BackoffConfig
}

// Page is a fetched location radar page.
type Page struct {
	URL  string
	HTML []byte
}

// HTTPSource fetches radar pages and frame images from the remote weather site.
type HTTPSource struct {
	name    string
	baseURL *url.URL
	client  *resty.Client
	backoff BackoffConfig
	circuit *gobreaker.CircuitBreaker
}

// NewHTTPSource creates an HTTPSource with backoff and a circuit breaker.
func NewHTTPSource(cfg Config) (*HTTPSource, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid radar source url %q", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "radar-cache/1.0"
	}
	backoff := cfg.Backoff
	if backoff.InitialInterval <= 0 {
		backoff = BackoffConfig{
			MaxRetries:      3,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     5 * time.Second,
		}
	}

	client := resty.New().
		SetTimeout(timeout).
		SetHeader("User-Agent", userAgent)

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "radar-source",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})

	return &HTTPSource{
		name:    "radar-source",
		baseURL: base,
		client:  client,
		backoff: backoff,
		circuit: cb,
	}, nil
}

func (s *HTTPSource) Name() string {
	return s.name
}

// PageURL is the radar page address of loc.
func (s *HTTPSource) PageURL(loc radar.Location) string {
	u := *s.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + "/location/" +
		url.PathEscape(strings.ToLower(strings.TrimSpace(loc.State))) + "/" +
		url.PathEscape(common.Slug(loc.Suburb)) + "/radar"
	return u.String()
}

// FetchPage downloads the radar page of loc.
func (s *HTTPSource) FetchPage(ctx context.Context, loc radar.Location) (Page, error) {
	pageURL := s.PageURL(loc)
	resp, err := doRequestWithResilience(ctx, s.client, s.backoff, s.circuit, func(req *resty.Request) (*resty.Response, error) {
		return req.SetHeader("Accept", "text/html").Get(pageURL)
	})
	if err != nil {
		return Page{}, fmt.Errorf("fetch radar page for %s: %w", loc.Key(), err)
	}
	return Page{URL: pageURL, HTML: resp.Body()}, nil
}

// FetchImage downloads one frame image and checks that it really is an image.
func (s *HTTPSource) FetchImage(ctx context.Context, imageURL string) ([]byte, error) {
	resp, err := doRequestWithResilience(ctx, s.client, s.backoff, s.circuit, func(req *resty.Request) (*resty.Response, error) {
		return req.SetHeader("Accept", "image/*").Get(imageURL)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch frame image %s: %w", imageURL, err)
	}

	body := resp.Body()
	mt := mimetype.Detect(body)
	if !strings.HasPrefix(mt.String(), "image/") {
		return nil, fmt.Errorf("frame image %s: unexpected content type %s", imageURL, mt.String())
	}
	return body, nil
}
