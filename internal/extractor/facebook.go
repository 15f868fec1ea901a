package extractor

import (
	"net/url"
	"regexp"

	"github.com/IliaW/content-overlay/internal/model"
)

var facebookPostID = regexp.MustCompile(`^(\d+|pfbid[A-Za-z0-9]+)$`)

var facebookReserved = map[string]struct{}{
	"profile.php":   {},
	"friends":       {},
	"events":        {},
	"messages":      {},
	"reel":          {},
	"reels":         {},
	"stories":       {},
	"photo":         {},
	"photo.php":     {},
	"permalink.php": {},
	"search":        {},
	"login":         {},
	"bookmarks":     {},
	"settings":      {},
	"help":          {},
}

func Facebook(u *url.URL) model.ContentInfo {
	if !hostIs(u, "facebook.com", "fb.com") {
		return model.ContentInfo{}
	}
	seg := segments(u)

	// /groups/{group}/posts/{id}
	if len(seg) >= 4 && seg[0] == "groups" && seg[2] == "posts" && facebookPostID.MatchString(seg[3]) {
		return post(seg[3])
	}
	// /{page}/posts/{id}, /posts/{id}
	for i := 0; i+1 < len(seg); i++ {
		if seg[i] == "posts" && facebookPostID.MatchString(seg[i+1]) {
			return post(seg[i+1])
		}
	}
	if len(seg) == 1 && seg[0] == "profile.php" {
		if id := u.Query().Get("id"); isDigits(id) {
			return model.ContentInfo{ID: id, Platform: model.Facebook, CrawlType: model.Profile}
		}
		return platformOnly(model.Facebook)
	}
	if len(seg) >= 1 && seg[0] != "groups" && !isReserved(seg[0], facebookReserved) {
		return model.ContentInfo{ID: seg[0], Platform: model.Facebook, CrawlType: model.Profile}
	}
	return platformOnly(model.Facebook)
}

func post(id string) model.ContentInfo {
	return model.ContentInfo{ID: id, Platform: model.Facebook, CrawlType: model.Post}
}
