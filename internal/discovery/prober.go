package discovery

import (
	"context"
	"log/slog"
	"time"

	"github.com/IliaW/content-overlay/internal/extractor"
	"github.com/IliaW/content-overlay/internal/model"
)

const (
	UdemyCourseSelector  = "body[data-clp-course-id]"
	UdemyCourseAttribute = "data-clp-course-id"
)

// AttributeReader reads one attribute of the first element matching selector
// on the page at pageURL. found is false when the element is not (yet) there.
type AttributeReader interface {
	ReadAttribute(ctx context.Context, pageURL, selector, attribute string) (value string, found bool, err error)
}

// CourseCache remembers ids by course slug.
type CourseCache interface {
	GetCourseID(slug string) (string, bool)
	SaveCourseID(slug, id string)
}

type Prober struct {
	reader   AttributeReader
	bus      *Bus
	cache    CourseCache
	interval time.Duration
}

func NewProber(reader AttributeReader, bus *Bus, cache CourseCache, interval time.Duration) *Prober {
	return &Prober{reader: reader, bus: bus, cache: cache, interval: interval}
}

// Probe looks for the Udemy course id of pageURL: once right away, then every
// interval until the attribute shows up or ctx is canceled. A found id is
// published on the bus. Read errors are logged and retried on the next tick.
func (p *Prober) Probe(ctx context.Context, pageURL string) {
	slug, ok := extractor.UdemyCourseSlug(pageURL)
	if !ok {
		return
	}
	if p.cache != nil {
		if id, ok := p.cache.GetCourseID(slug); ok {
			slog.Debug("course id found in cache.", slog.String("slug", slug), slog.String("id", id))
			p.publish(pageURL, id)
			return
		}
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for attempt := 1; ; attempt++ {
		value, found, err := p.reader.ReadAttribute(ctx, pageURL, UdemyCourseSelector, UdemyCourseAttribute)
		switch {
		case err != nil && ctx.Err() == nil:
			slog.Warn("failed to read course id.", slog.String("url", pageURL),
				slog.Int("attempt", attempt), slog.String("err", err.Error()))
		case found && value != "":
			slog.Info("course id found.", slog.String("slug", slug), slog.String("id", value),
				slog.Int("attempt", attempt))
			if p.cache != nil {
				p.cache.SaveCourseID(slug, value)
			}
			p.publish(pageURL, value)
			return
		}

		select {
		case <-ctx.Done():
			slog.Debug("course id probe stopped.", slog.String("url", pageURL))
			return
		case <-ticker.C:
		}
	}
}

func (p *Prober) publish(pageURL, id string) {
	p.bus.Publish(Discovery{Platform: model.Udemy, PageURL: pageURL, ID: id})
}
