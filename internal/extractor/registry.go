// Package extractor maps page URLs to content identities.
//
// Every platform has one recognizer: a pure function that returns a
// ContentInfo with an empty Platform when the URL does not belong to it, a
// Platform but no ID/CrawlType when the host matched but the path did not
// name a specific item, and a fully populated ContentInfo otherwise. The
// Registry runs recognizers in a fixed order and stops at the first one that
// claims the URL.
package extractor

import (
	"net/url"
	"strings"

	"github.com/IliaW/content-overlay/internal/model"
)

// Recognizer inspects a parsed URL and reports what content it points at.
type Recognizer func(u *url.URL) model.ContentInfo

type Registry struct {
	recognizers []Recognizer
}

func NewRegistry(recognizers ...Recognizer) *Registry {
	return &Registry{recognizers: recognizers}
}

// Default returns the registry with every supported platform in priority order.
func Default() *Registry {
	return NewRegistry(
		Twitter,
		YouTube,
		Trustpilot,
		Facebook,
		Coursera,
		Udemy,
	)
}

// Extract returns the identity claimed by the first matching recognizer.
// The boolean is false when no recognizer knows the host or the URL cannot be
// parsed.
func (r *Registry) Extract(rawURL string) (model.ContentInfo, bool) {
	u := parse(rawURL)
	if u == nil {
		return model.ContentInfo{}, false
	}
	for _, recognize := range r.recognizers {
		info := recognize(u)
		if info.Platform != "" {
			return info, true
		}
	}
	return model.ContentInfo{}, false
}

func parse(rawURL string) *url.URL {
	raw := strings.TrimSpace(rawURL)
	if raw == "" {
		return nil
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + strings.TrimPrefix(raw, "//")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil
	}
	return u
}

// hostIs matches the domain itself or any of its subdomains.
func hostIs(u *url.URL, domains ...string) bool {
	host := strings.ToLower(u.Hostname())
	for _, d := range domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func segments(u *url.URL) []string {
	parts := strings.Split(u.Path, "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// reserved path segments are site sections, never profile handles.
var reserved = map[string]struct{}{
	"home":          {},
	"explore":       {},
	"notifications": {},
	"groups":        {},
	"pages":         {},
	"marketplace":   {},
	"gaming":        {},
	"watch":         {},
}

func isReserved(segment string, extra map[string]struct{}) bool {
	s := strings.ToLower(segment)
	if _, ok := reserved[s]; ok {
		return true
	}
	_, ok := extra[s]
	return ok
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func platformOnly(p model.Platform) model.ContentInfo {
	return model.ContentInfo{Platform: p}
}
