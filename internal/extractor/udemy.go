package extractor

import (
	"net/url"

	"github.com/IliaW/content-overlay/internal/model"
)

// Udemy course pages carry their numeric id only in the rendered DOM, so the
// URL yields platform and crawl type but no ID. The id is resolved later by
// discovery.Prober and merged into the current identity.
func Udemy(u *url.URL) model.ContentInfo {
	if !hostIs(u, "udemy.com") {
		return model.ContentInfo{}
	}
	if seg := segments(u); len(seg) >= 2 && seg[0] == "course" {
		return model.ContentInfo{Platform: model.Udemy, CrawlType: model.Course}
	}
	return platformOnly(model.Udemy)
}

// UdemyCourseSlug returns the course slug of a Udemy course URL. The slug is
// stable enough to key cached course ids by.
func UdemyCourseSlug(rawURL string) (string, bool) {
	u := parse(rawURL)
	if u == nil || !hostIs(u, "udemy.com") {
		return "", false
	}
	if seg := segments(u); len(seg) >= 2 && seg[0] == "course" {
		return seg[1], true
	}
	return "", false
}
