// Package api is the client of the remote crawl/analysis service.
package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/IliaW/content-overlay/config"
	"github.com/IliaW/content-overlay/internal/model"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrContextInvalidated means the hosting context is gone. It is never
// retried: callers drop their state and reload.
var ErrContextInvalidated = errors.New("extension context invalidated")

const contextInvalidatedMessage = "Extension context invalidated."

// ServiceError is a failure reported by the service, either as an error
// envelope or as a non-2xx status.
type ServiceError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *ServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *ServiceError) Unwrap() error {
	if e.Message == contextInvalidatedMessage {
		return ErrContextInvalidated
	}
	return nil
}

type envelope[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Error   string `json:"error,omitempty"`
}

type createdTask struct {
	ID string `json:"id"`
}

type Client struct {
	httpClient      *http.Client
	baseURL         string
	analysisBaseURL string
	exportBaseURL   string
}

func NewClient(cfg *config.ServiceConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		httpClient:      httpClient,
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		analysisBaseURL: strings.TrimRight(cfg.AnalysisBaseURL, "/"),
		exportBaseURL:   strings.TrimRight(cfg.ExportBaseURL, "/"),
	}
}

// TaskStatus implements GET_TASK_STATUS.
func (c *Client) TaskStatus(ctx context.Context, id string) (model.TaskStatusResult, error) {
	res, err := do[model.TaskStatusResult](ctx, c, "get task status", http.MethodGet,
		"/tasks/"+url.PathEscape(id)+"/status", nil)
	if err != nil {
		return res, err
	}
	if !knownStatus(res.Status) {
		return res, &ServiceError{Op: "get task status", Message: fmt.Sprintf("unknown status %q", res.Status)}
	}
	return res, nil
}

// CreateTask implements CREATE_TASK and returns the id of the new task.
func (c *Client) CreateTask(ctx context.Context, payload model.CreateTaskPayload) (string, error) {
	if err := payload.Validate(); err != nil {
		return "", err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal task payload: %w", err)
	}
	res, err := do[createdTask](ctx, c, "create task", http.MethodPost, "/tasks", body)
	if err != nil {
		return "", err
	}
	slog.Debug("task created.", slog.String("id", res.ID), slog.String("type", string(payload.Type)))
	return res.ID, nil
}

// AnalysisItems implements GET_ANALYSIS_ITEMS.
func (c *Client) AnalysisItems(ctx context.Context) ([]model.AnalysisItem, error) {
	items, err := do[[]model.AnalysisItem](ctx, c, "get analysis items", http.MethodGet, "/analysis-items", nil)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []model.AnalysisItem{}
	}
	return items, nil
}

// AnalysisURL is where the report of an analyzed task is published.
func (c *Client) AnalysisURL(id string) string {
	return c.analysisBaseURL + "/" + url.PathEscape(id)
}

// ExportURL is where the export artifact of an analyzed task is downloaded.
func (c *Client) ExportURL(id string) string {
	return c.exportBaseURL + "/" + url.PathEscape(id)
}

// DownloadExport fetches the export artifact and its content type.
func (c *Client) DownloadExport(ctx context.Context, id string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.ExportURL(id), nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download export: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, "", &ServiceError{Op: "download export", StatusCode: resp.StatusCode,
			Message: http.StatusText(resp.StatusCode)}
	}
	return body, resp.Header.Get("Content-Type"), nil
}

func do[T any](ctx context.Context, c *Client, op, method, path string, body []byte) (T, error) {
	var zero T
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return zero, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return zero, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return zero, fmt.Errorf("failed to read response: %w", err)
	}

	var env envelope[T]
	decodeErr := json.Unmarshal(raw, &env)
	switch {
	case decodeErr == nil && env.Error != "":
		return zero, &ServiceError{Op: op, StatusCode: statusIfFailed(resp.StatusCode), Message: env.Error}
	case resp.StatusCode/100 != 2:
		return zero, &ServiceError{Op: op, StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	case decodeErr != nil:
		return zero, fmt.Errorf("%s: failed to parse response: %w", op, decodeErr)
	case !env.Success:
		return zero, &ServiceError{Op: op, Message: "service reported failure"}
	}
	return env.Data, nil
}

func statusIfFailed(code int) int {
	if code/100 == 2 {
		return 0
	}
	return code
}

func knownStatus(s model.TaskStatus) bool {
	switch s {
	case model.StatusNone, model.StatusCrawling, model.StatusCrawled,
		model.StatusAnalyzing, model.StatusAnalyzed, model.StatusFailed:
		return true
	}
	return false
}
