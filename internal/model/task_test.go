package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskStatusTerminal(t *testing.T) {
	for status, want := range map[TaskStatus]bool{
		StatusNone:      false,
		StatusCrawling:  false,
		StatusCrawled:   false,
		StatusAnalyzing: false,
		StatusAnalyzed:  true,
		StatusFailed:    true,
	} {
		assert.Equal(t, want, status.Terminal(), status)
	}
}

func TestCreateTaskPayloadValidate(t *testing.T) {
	crawl := NewCrawlPayload(ContentInfo{ID: "42", Platform: Twitter, CrawlType: Post}, 1)
	assert.NoError(t, crawl.Validate())

	analyze := CreateTaskPayload{Type: TaskAnalyze, Priority: 1, AnalyzeConfig: &AnalyzeConfig{}}
	assert.NoError(t, analyze.Validate())

	both := crawl
	both.AnalyzeConfig = &AnalyzeConfig{}
	assert.ErrorIs(t, both.Validate(), ErrInvalidPayload)

	mismatched := CreateTaskPayload{Type: TaskAnalyze, CrawlConfig: crawl.CrawlConfig}
	assert.ErrorIs(t, mismatched.Validate(), ErrInvalidPayload)

	noTarget := NewCrawlPayload(ContentInfo{Platform: Udemy, CrawlType: Course}, 1)
	assert.ErrorIs(t, noTarget.Validate(), ErrInvalidPayload)
}
