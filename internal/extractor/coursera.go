package extractor

import (
	"net/url"

	"github.com/IliaW/content-overlay/internal/model"
)

func Coursera(u *url.URL) model.ContentInfo {
	if !hostIs(u, "coursera.org") {
		return model.ContentInfo{}
	}
	seg := segments(u)
	if len(seg) >= 2 && seg[0] == "learn" {
		return model.ContentInfo{ID: seg[1], Platform: model.Coursera, CrawlType: model.Course}
	}
	return platformOnly(model.Coursera)
}
