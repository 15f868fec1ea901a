// Package report assembles one aggregate ANALYZE task from a selection of
// previously processed items and an optional time range.
package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IliaW/content-overlay/internal/model"
	"github.com/IliaW/content-overlay/internal/telemetry"
)

// TimeFormat is ISO-8601 in UTC with millisecond precision.
const TimeFormat = "2006-01-02T15:04:05.000Z"

var (
	ErrEmptyReport      = errors.New("report needs a time range or at least one selected item")
	ErrInvalidTimeRange = errors.New("report time range ends before it starts")
)

type Client interface {
	AnalysisItems(ctx context.Context) ([]model.AnalysisItem, error)
	CreateTask(ctx context.Context, payload model.CreateTaskPayload) (string, error)
	AnalysisURL(id string) string
}

// CheckState is the tri-state of the select-all control.
type CheckState struct {
	Checked       bool
	Indeterminate bool
}

type Submission struct {
	TaskID string
	URL    string
}

type Builder struct {
	client  Client
	metrics *telemetry.AppMetrics

	mu       sync.Mutex
	items    []model.AnalysisItem
	selected map[string]struct{}
	start    time.Time
	end      time.Time
	hasRange bool
}

func New(client Client, metrics *telemetry.AppMetrics) *Builder {
	if metrics == nil {
		metrics = telemetry.Discard().AppMetrics
	}
	return &Builder{
		client:   client,
		metrics:  metrics,
		selected: make(map[string]struct{}),
	}
}

// Open loads the candidate items and selects all of them. On failure the
// previous candidates and selection are left untouched.
func (b *Builder) Open(ctx context.Context) error {
	fetched, err := b.client.AnalysisItems(ctx)
	if err != nil {
		return fmt.Errorf("load analysis items: %w", err)
	}

	items := make([]model.AnalysisItem, 0, len(fetched))
	seen := make(map[string]struct{}, len(fetched))
	for _, item := range fetched {
		if item.Type != model.ItemContent && item.Type != model.ItemProfile {
			slog.Warn("skipping analysis item of unknown type.", slog.String("id", item.ID),
				slog.String("type", string(item.Type)))
			continue
		}
		if _, ok := seen[item.Key()]; ok {
			continue
		}
		seen[item.Key()] = struct{}{}
		items = append(items, item)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = items
	b.selected = seen
	return nil
}

func (b *Builder) Items() []model.AnalysisItem {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]model.AnalysisItem(nil), b.items...)
}

func (b *Builder) Selected(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.selected[key]
	return ok
}

// Toggle changes the selection of one item. Keys of unknown items are ignored.
func (b *Builder) Toggle(key string, checked bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.knownLocked(key) {
		return
	}
	if checked {
		b.selected[key] = struct{}{}
	} else {
		delete(b.selected, key)
	}
}

func (b *Builder) SetAll(checked bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.selected = make(map[string]struct{}, len(b.items))
	if !checked {
		return
	}
	for _, item := range b.items {
		b.selected[item.Key()] = struct{}{}
	}
}

func (b *Builder) CheckState() CheckState {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.selected)
	return CheckState{
		Checked:       n == len(b.items),
		Indeterminate: n > 0 && n < len(b.items),
	}
}

func (b *Builder) SetTimeRange(start, end time.Time) error {
	if start.IsZero() || end.IsZero() || end.Before(start) {
		return ErrInvalidTimeRange
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.start, b.end, b.hasRange = start, end, true
	return nil
}

func (b *Builder) ClearTimeRange() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.start, b.end, b.hasRange = time.Time{}, time.Time{}, false
}

// Request builds the ANALYZE payload. Selected items are routed by type into
// contentIds or profileIds, each id listed once, in candidate order.
func (b *Builder) Request() (model.CreateTaskPayload, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.hasRange && len(b.selected) == 0 {
		return model.CreateTaskPayload{}, ErrEmptyReport
	}

	cfg := &model.AnalyzeConfig{ContentIDs: []string{}, ProfileIDs: []string{}}
	contentSeen := make(map[string]struct{})
	profileSeen := make(map[string]struct{})
	for _, item := range b.items {
		if _, ok := b.selected[item.Key()]; !ok {
			continue
		}
		switch item.Type {
		case model.ItemContent:
			cfg.ContentIDs = appendOnce(cfg.ContentIDs, contentSeen, item.ID)
		case model.ItemProfile:
			cfg.ProfileIDs = appendOnce(cfg.ProfileIDs, profileSeen, item.ID)
		}
	}
	if b.hasRange {
		cfg.StartTime = b.start.UTC().Format(TimeFormat)
		cfg.EndTime = b.end.UTC().Format(TimeFormat)
	}

	return model.CreateTaskPayload{
		Type:          model.TaskAnalyze,
		Priority:      1,
		AnalyzeConfig: cfg,
	}, nil
}

// Submit validates the report and creates the ANALYZE task. Validation
// failures never reach the network.
func (b *Builder) Submit(ctx context.Context) (Submission, error) {
	payload, err := b.Request()
	if err != nil {
		return Submission{}, err
	}
	taskID, err := b.client.CreateTask(ctx, payload)
	if err != nil {
		return Submission{}, fmt.Errorf("create report task: %w", err)
	}
	b.metrics.ReportsSubmittedCnt(1)
	slog.Info("report task created.", slog.String("task", taskID),
		slog.Int("content ids", len(payload.AnalyzeConfig.ContentIDs)),
		slog.Int("profile ids", len(payload.AnalyzeConfig.ProfileIDs)))
	return Submission{TaskID: taskID, URL: b.client.AnalysisURL(taskID)}, nil
}

func (b *Builder) knownLocked(key string) bool {
	for _, item := range b.items {
		if item.Key() == key {
			return true
		}
	}
	return false
}

func appendOnce(ids []string, seen map[string]struct{}, id string) []string {
	if _, ok := seen[id]; ok {
		return ids
	}
	seen[id] = struct{}{}
	return append(ids, id)
}
