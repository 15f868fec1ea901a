package extractor

import (
	"net/url"
	"strings"

	"github.com/IliaW/content-overlay/internal/model"
)

// Trustpilot review pages are keyed by the reviewed company's domain, e.g.
// https://www.trustpilot.com/review/www.facebook.com.
func Trustpilot(u *url.URL) model.ContentInfo {
	if !hostIs(u, "trustpilot.com") {
		return model.ContentInfo{}
	}
	seg := segments(u)
	if len(seg) >= 2 && seg[0] == "review" {
		return model.ContentInfo{ID: strings.ToLower(seg[1]), Platform: model.Trustpilot, CrawlType: model.Company}
	}
	return platformOnly(model.Trustpilot)
}
