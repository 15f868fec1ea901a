package extractor

import (
	"net/url"
	"regexp"

	"github.com/IliaW/content-overlay/internal/model"
)

var youtubeID = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func YouTube(u *url.URL) model.ContentInfo {
	if hostIs(u, "youtu.be") {
		if seg := segments(u); len(seg) > 0 && youtubeID.MatchString(seg[0]) {
			return video(seg[0])
		}
		return platformOnly(model.YouTube)
	}
	if !hostIs(u, "youtube.com", "youtube-nocookie.com") {
		return model.ContentInfo{}
	}
	seg := segments(u)

	if len(seg) == 1 && seg[0] == "watch" {
		if v := u.Query().Get("v"); youtubeID.MatchString(v) {
			return video(v)
		}
		return platformOnly(model.YouTube)
	}
	if len(seg) >= 2 {
		switch seg[0] {
		case "embed", "shorts", "live", "v":
			if youtubeID.MatchString(seg[1]) {
				return video(seg[1])
			}
		case "channel":
			return model.ContentInfo{ID: seg[1], Platform: model.YouTube, CrawlType: model.Profile}
		}
	}
	if len(seg) >= 1 && len(seg[0]) > 1 && seg[0][0] == '@' {
		return model.ContentInfo{ID: seg[0], Platform: model.YouTube, CrawlType: model.Profile}
	}
	return platformOnly(model.YouTube)
}

func video(id string) model.ContentInfo {
	return model.ContentInfo{ID: id, Platform: model.YouTube, CrawlType: model.Video}
}
