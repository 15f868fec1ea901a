package extractor

import (
	"net/url"
	"regexp"

	"github.com/IliaW/content-overlay/internal/model"
)

var twitterHandle = regexp.MustCompile(`^[A-Za-z0-9_]{1,15}$`)

var twitterReserved = map[string]struct{}{
	"i":        {},
	"messages": {},
	"search":   {},
	"settings": {},
	"compose":  {},
	"login":    {},
	"logout":   {},
	"signup":   {},
	"tos":      {},
	"privacy":  {},
	"hashtag":  {},
	"intent":   {},
	"share":    {},
}

func Twitter(u *url.URL) model.ContentInfo {
	if !hostIs(u, "twitter.com", "x.com") {
		return model.ContentInfo{}
	}
	seg := segments(u)

	// /{handle}/status/{id} and its media sub-pages (/photo/1, /analytics, ...)
	if len(seg) >= 3 && seg[1] == "status" && isDigits(seg[2]) {
		return model.ContentInfo{ID: seg[2], Platform: model.Twitter, CrawlType: model.Post}
	}
	if len(seg) == 1 && twitterHandle.MatchString(seg[0]) && !isReserved(seg[0], twitterReserved) {
		return model.ContentInfo{ID: seg[0], Platform: model.Twitter, CrawlType: model.Profile}
	}
	return platformOnly(model.Twitter)
}
