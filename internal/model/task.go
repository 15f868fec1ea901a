package model

import (
	"errors"
	"time"
)

type TaskStatus string

const (
	StatusNone      TaskStatus = "NONE"
	StatusCrawling  TaskStatus = "CRAWLING"
	StatusCrawled   TaskStatus = "CRAWLED"
	StatusAnalyzing TaskStatus = "ANALYZING"
	StatusAnalyzed  TaskStatus = "ANALYZED"
	StatusFailed    TaskStatus = "FAILED"
)

// Terminal reports whether the remote pipeline is done with the task.
func (s TaskStatus) Terminal() bool {
	return s == StatusAnalyzed || s == StatusFailed
}

type TaskType string

const (
	TaskCrawl   TaskType = "CRAWL"
	TaskAnalyze TaskType = "ANALYZE"
)

type CrawlConfig struct {
	Platform  Platform  `json:"platform"`
	CrawlType CrawlType `json:"crawlType"`
	TargetID  string    `json:"targetId"`
}

type AnalyzeConfig struct {
	ContentIDs []string `json:"contentIds"`
	ProfileIDs []string `json:"profileIds"`
	StartTime  string   `json:"startTime,omitempty"`
	EndTime    string   `json:"endTime,omitempty"`
}

type CreateTaskPayload struct {
	Type          TaskType       `json:"type"`
	Priority      int            `json:"priority"`
	CrawlConfig   *CrawlConfig   `json:"crawlConfig,omitempty"`
	AnalyzeConfig *AnalyzeConfig `json:"analyzeConfig,omitempty"`
}

var ErrInvalidPayload = errors.New("invalid task payload")

// Validate checks that exactly one config is present and that it matches Type.
func (p CreateTaskPayload) Validate() error {
	switch p.Type {
	case TaskCrawl:
		if p.CrawlConfig == nil || p.AnalyzeConfig != nil {
			return ErrInvalidPayload
		}
		if p.CrawlConfig.TargetID == "" {
			return ErrInvalidPayload
		}
	case TaskAnalyze:
		if p.AnalyzeConfig == nil || p.CrawlConfig != nil {
			return ErrInvalidPayload
		}
	default:
		return ErrInvalidPayload
	}
	return nil
}

// NewCrawlPayload builds the CRAWL request for an actionable content identity.
func NewCrawlPayload(info ContentInfo, priority int) CreateTaskPayload {
	return CreateTaskPayload{
		Type:     TaskCrawl,
		Priority: priority,
		CrawlConfig: &CrawlConfig{
			Platform:  info.Platform,
			CrawlType: info.CrawlType,
			TargetID:  info.ID,
		},
	}
}

type TaskStatusResult struct {
	Status TaskStatus `json:"status"`
	TaskID string     `json:"taskId"`
}

type ItemType string

const (
	ItemContent ItemType = "CONTENT"
	ItemProfile ItemType = "PROFILE"
)

// AnalysisItem is a previously crawled unit that can be included in a report.
type AnalysisItem struct {
	Platform string   `json:"platform"`
	ID       string   `json:"id"`
	Label    string   `json:"label"`
	Type     ItemType `json:"type"`
}

// Key is unique per platform, type and id.
func (i AnalysisItem) Key() string {
	return i.Platform + ":" + string(i.Type) + ":" + i.ID
}

type EventKind string

const (
	EventIdentityChanged EventKind = "identity_changed"
	EventStatusChanged   EventKind = "status_changed"
	EventTaskCreated     EventKind = "task_created"
	EventReportCreated   EventKind = "report_created"
)

// OverlayEvent is the audit record of one visible transition.
type OverlayEvent struct {
	ID        string      `json:"id"`
	Kind      EventKind   `json:"kind"`
	Content   ContentInfo `json:"content"`
	Status    TaskStatus  `json:"status,omitempty"`
	IsError   bool        `json:"is_error"`
	TaskID    string      `json:"task_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}
