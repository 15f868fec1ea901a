// Package crawler reads DOM attributes from pages outside the live tab, with
// either a plain HTTP fetch or a headless browser.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gocolly/colly"

	"github.com/IliaW/content-overlay/config"
	"github.com/IliaW/content-overlay/internal/discovery"
	"github.com/IliaW/content-overlay/internal/model"
)

// PageReader fetches the server-rendered HTML with colly. It sees only what
// the server sends, which is enough for attributes set on <body>.
type PageReader struct {
	transport http.RoundTripper
	timeout   time.Duration
	userAgent string
}

func NewPageReader(transport http.RoundTripper, timeout time.Duration, userAgent string) *PageReader {
	return &PageReader{transport: transport, timeout: timeout, userAgent: userAgent}
}

func (r *PageReader) ReadAttribute(ctx context.Context, pageURL, selector, attribute string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	// colly refuses to revisit a URL, so every read gets its own collector.
	c := colly.NewCollector()
	if r.transport != nil {
		c.WithTransport(r.transport)
	}
	if r.timeout > 0 {
		c.SetRequestTimeout(r.timeout)
	}
	if r.userAgent != "" {
		c.UserAgent = r.userAgent
	}

	var value string
	var found bool
	c.OnHTML(selector, func(e *colly.HTMLElement) {
		if found {
			return
		}
		value, found = e.Attr(attribute), true
	})
	var statusErr error
	c.OnError(func(resp *colly.Response, err error) {
		statusErr = fmt.Errorf("status %d: %w", resp.StatusCode, err)
	})

	start := time.Now()
	err := c.Visit(pageURL)
	slog.Debug("page fetched.", slog.String("url", pageURL), slog.Bool("found", found),
		slog.Int64("ms", time.Since(start).Milliseconds()))
	if statusErr != nil {
		return "", false, fmt.Errorf("fetch %s: %w", pageURL, statusErr)
	}
	if err != nil {
		return "", false, fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	return value, found, nil
}

// NewAttributeReader picks the reader for the configured mechanism.
func NewAttributeReader(cfg *config.Config, transport http.RoundTripper) (discovery.AttributeReader, error) {
	mechanism := model.CrawlMechanism(cfg.DiscoverySettings.CrawlMechanism)
	switch mechanism {
	case model.Curl:
		return NewPageReader(transport, cfg.HttpClientSettings.RequestTimeout, cfg.DiscoverySettings.UserAgent), nil
	case model.HeadlessBrowser:
		return NewBrowserReader(cfg.HttpClientSettings.RequestTimeout, cfg.DiscoverySettings.UserAgent), nil
	default:
		return nil, errors.New("unsupported crawl mechanism")
	}
}
