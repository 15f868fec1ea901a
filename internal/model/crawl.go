package model

type CrawlMechanism int

const (
	Curl CrawlMechanism = iota
	HeadlessBrowser
)

func (sm CrawlMechanism) String() string {
	return [...]string{"curl", "headless browser"}[sm]
}

type Platform string

const (
	Twitter    Platform = "TWITTER"
	YouTube    Platform = "YOUTUBE"
	Trustpilot Platform = "TRUSTPILOT"
	Facebook   Platform = "FACEBOOK"
	Coursera   Platform = "COURSERA"
	Udemy      Platform = "UDEMY"
)

type CrawlType string

const (
	Post    CrawlType = "POST"
	Video   CrawlType = "VIDEO"
	Company CrawlType = "COMPANY"
	Profile CrawlType = "PROFILE"
	Course  CrawlType = "COURSE"
)

// ContentInfo identifies one addressable unit of content on one platform.
// Empty fields stand for "unknown": a ContentInfo with a Platform but no ID is
// a page whose identity is not yet actionable (e.g. a Udemy course whose id is
// only rendered into the DOM later).
type ContentInfo struct {
	ID        string    `json:"id,omitempty"`
	Platform  Platform  `json:"platform,omitempty"`
	CrawlType CrawlType `json:"crawlType,omitempty"`
}

// Actionable reports whether a crawl task can be created for the content.
func (c ContentInfo) Actionable() bool {
	return c.ID != "" && c.Platform != "" && c.CrawlType != ""
}

func (c ContentInfo) String() string {
	if c.Platform == "" {
		return "<none>"
	}
	id, ct := c.ID, string(c.CrawlType)
	if id == "" {
		id = "?"
	}
	if ct == "" {
		ct = "?"
	}
	return string(c.Platform) + "/" + ct + "/" + id
}

type CrawlTask struct {
	URL      string `json:"url"`
	Priority int    `json:"priority"`
}
