package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/IliaW/content-overlay/internal/model"
)

// TaskStorage keeps the history of tasks created from the overlay.
type TaskStorage interface {
	SaveTask(ctx context.Context, taskID string, payload model.CreateTaskPayload) error
}

type TaskRepository struct {
	db *sql.DB
}

func NewTaskRepository(db *sql.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// SaveTask inserts one row per task id. Recording the same task twice keeps
// the first row.
func (tr *TaskRepository) SaveTask(ctx context.Context, taskID string, payload model.CreateTaskPayload) error {
	var platform, crawlType, targetID sql.NullString
	var contentIDs, profileIDs []string
	var startTime, endTime sql.NullString
	switch {
	case payload.CrawlConfig != nil:
		platform = nullString(string(payload.CrawlConfig.Platform))
		crawlType = nullString(string(payload.CrawlConfig.CrawlType))
		targetID = nullString(payload.CrawlConfig.TargetID)
	case payload.AnalyzeConfig != nil:
		contentIDs = payload.AnalyzeConfig.ContentIDs
		profileIDs = payload.AnalyzeConfig.ProfileIDs
		startTime = nullString(payload.AnalyzeConfig.StartTime)
		endTime = nullString(payload.AnalyzeConfig.EndTime)
	}

	_, err := tr.db.ExecContext(ctx, `INSERT INTO overlay.task_requests
    (task_id, type, priority, platform, crawl_type, target_id, content_ids, profile_ids, start_time, end_time, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (task_id) DO NOTHING;`,
		taskID,
		string(payload.Type),
		payload.Priority,
		platform,
		crawlType,
		targetID,
		pq.Array(contentIDs),
		pq.Array(profileIDs),
		startTime,
		endTime,
		time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save task %s: %w", taskID, err)
	}
	slog.Debug("task saved to db.", slog.String("task", taskID), slog.String("type", string(payload.Type)))
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
