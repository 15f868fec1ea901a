package api

import (
	"context"
	"log/slog"

	"github.com/IliaW/content-overlay/internal/model"
)

// TaskRecorder keeps a history of created tasks.
type TaskRecorder interface {
	SaveTask(ctx context.Context, taskID string, payload model.CreateTaskPayload) error
}

// RecordingClient records every successfully created task. A failing recorder
// never fails the creation itself.
type RecordingClient struct {
	*Client
	recorder TaskRecorder
}

func NewRecordingClient(client *Client, recorder TaskRecorder) *RecordingClient {
	return &RecordingClient{Client: client, recorder: recorder}
}

func (c *RecordingClient) CreateTask(ctx context.Context, payload model.CreateTaskPayload) (string, error) {
	id, err := c.Client.CreateTask(ctx, payload)
	if err != nil {
		return id, err
	}
	if err := c.recorder.SaveTask(ctx, id, payload); err != nil {
		slog.Error("failed to record created task.", slog.String("id", id), slog.String("err", err.Error()))
	}
	return id, nil
}
