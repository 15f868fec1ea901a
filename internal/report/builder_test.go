package report

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IliaW/content-overlay/config"
	"github.com/IliaW/content-overlay/internal/api"
	"github.com/IliaW/content-overlay/internal/model"
	"github.com/IliaW/content-overlay/internal/telemetry"
)

var (
	post    = model.AnalysisItem{Platform: "TWITTER", ID: "42", Label: "a post", Type: model.ItemContent}
	video   = model.AnalysisItem{Platform: "YOUTUBE", ID: "abc123", Label: "a video", Type: model.ItemContent}
	profile = model.AnalysisItem{Platform: "TWITTER", ID: "jack", Label: "@jack", Type: model.ItemProfile}
)

type fakeClient struct {
	items    []model.AnalysisItem
	itemsErr error
	created  []model.CreateTaskPayload
}

func (c *fakeClient) AnalysisItems(context.Context) ([]model.AnalysisItem, error) {
	return c.items, c.itemsErr
}

func (c *fakeClient) CreateTask(_ context.Context, payload model.CreateTaskPayload) (string, error) {
	c.created = append(c.created, payload)
	return "report-1", nil
}

func (c *fakeClient) AnalysisURL(id string) string {
	return "http://localhost:3001/analysis/" + id
}

func openBuilder(t *testing.T, items ...model.AnalysisItem) (*Builder, *fakeClient) {
	t.Helper()
	client := &fakeClient{items: items}
	b := New(client, nil)
	require.NoError(t, b.Open(context.Background()))
	return b, client
}

func TestBuilder_OpenSelectsAll(t *testing.T) {
	b, _ := openBuilder(t, post, video, profile)

	assert.Equal(t, CheckState{Checked: true}, b.CheckState())
	for _, item := range b.Items() {
		assert.True(t, b.Selected(item.Key()))
	}
}

func TestBuilder_OpenFailureKeepsPreviousItems(t *testing.T) {
	b, client := openBuilder(t, post)
	client.itemsErr = errors.New("connection refused")

	err := b.Open(context.Background())

	require.Error(t, err)
	assert.Equal(t, []model.AnalysisItem{post}, b.Items())
}

func TestBuilder_OpenSkipsUnknownTypesAndDuplicates(t *testing.T) {
	odd := model.AnalysisItem{Platform: "TWITTER", ID: "1", Type: "GROUP"}

	b, _ := openBuilder(t, post, odd, post, profile)

	assert.Equal(t, []model.AnalysisItem{post, profile}, b.Items())
}

func TestBuilder_CheckState(t *testing.T) {
	b, _ := openBuilder(t, post, video, profile)

	b.Toggle(video.Key(), false)
	assert.Equal(t, CheckState{Indeterminate: true}, b.CheckState())

	b.SetAll(false)
	assert.Equal(t, CheckState{}, b.CheckState())

	b.Toggle(post.Key(), true)
	assert.Equal(t, CheckState{Indeterminate: true}, b.CheckState())
}

func TestBuilder_SelectingEachItemEqualsSelectAll(t *testing.T) {
	one, _ := openBuilder(t, post, video, profile)
	one.SetAll(false)
	for _, item := range one.Items() {
		one.Toggle(item.Key(), true)
	}

	all, _ := openBuilder(t, post, video, profile)
	all.SetAll(false)
	all.SetAll(true)

	assert.Equal(t, all.CheckState(), one.CheckState())
	assert.True(t, one.CheckState().Checked)
}

func TestBuilder_ToggleUnknownKeyIsIgnored(t *testing.T) {
	b, _ := openBuilder(t, post)

	b.Toggle("FACEBOOK:CONTENT:nope", true)

	assert.Equal(t, CheckState{Checked: true}, b.CheckState())
	assert.False(t, b.Selected("FACEBOOK:CONTENT:nope"))
}

func TestBuilder_RequestPartitionsByType(t *testing.T) {
	b, _ := openBuilder(t, post, video, profile)
	b.Toggle(video.Key(), false)

	payload, err := b.Request()

	require.NoError(t, err)
	require.NoError(t, payload.Validate())
	assert.Equal(t, model.TaskAnalyze, payload.Type)
	assert.Equal(t, 1, payload.Priority)
	assert.Equal(t, []string{"42"}, payload.AnalyzeConfig.ContentIDs)
	assert.Equal(t, []string{"jack"}, payload.AnalyzeConfig.ProfileIDs)
	assert.Empty(t, payload.AnalyzeConfig.StartTime)
	assert.Empty(t, payload.AnalyzeConfig.EndTime)
}

func TestBuilder_RequestListsSharedIDOnce(t *testing.T) {
	other := model.AnalysisItem{Platform: "FACEBOOK", ID: "42", Type: model.ItemContent}
	b, _ := openBuilder(t, post, other)

	payload, err := b.Request()

	require.NoError(t, err)
	assert.Equal(t, []string{"42"}, payload.AnalyzeConfig.ContentIDs)
	assert.Equal(t, []string{}, payload.AnalyzeConfig.ProfileIDs)
}

func TestBuilder_TimeRangeOnly(t *testing.T) {
	b, _ := openBuilder(t, post)
	b.SetAll(false)
	loc := time.FixedZone("UTC+2", 2*60*60)
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, loc)
	end := time.Date(2025, 3, 2, 9, 30, 15, 250_000_000, loc)
	require.NoError(t, b.SetTimeRange(start, end))

	payload, err := b.Request()

	require.NoError(t, err)
	assert.Equal(t, "2025-03-01T08:00:00.000Z", payload.AnalyzeConfig.StartTime)
	assert.Equal(t, "2025-03-02T07:30:15.250Z", payload.AnalyzeConfig.EndTime)
	assert.Empty(t, payload.AnalyzeConfig.ContentIDs)
}

func TestBuilder_InvalidTimeRange(t *testing.T) {
	b, _ := openBuilder(t, post)
	now := time.Now()

	assert.ErrorIs(t, b.SetTimeRange(now, now.Add(-time.Minute)), ErrInvalidTimeRange)
	assert.ErrorIs(t, b.SetTimeRange(time.Time{}, now), ErrInvalidTimeRange)
	assert.NoError(t, b.SetTimeRange(now, now))
}

func TestBuilder_EmptyReportNeverReachesNetwork(t *testing.T) {
	b, client := openBuilder(t, post, profile)
	b.SetAll(false)
	require.NoError(t, b.SetTimeRange(time.Now().Add(-time.Hour), time.Now()))
	b.ClearTimeRange()

	_, err := b.Submit(context.Background())

	assert.ErrorIs(t, err, ErrEmptyReport)
	assert.Empty(t, client.created)
}

func TestBuilder_SubmitOverHTTP(t *testing.T) {
	var body string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/analysis-items":
			_, _ = io.WriteString(w, `{"success":true,"data":[
				{"platform":"TWITTER","id":"42","label":"a post","type":"CONTENT"},
				{"platform":"TWITTER","id":"jack","label":"@jack","type":"PROFILE"}]}`)
		case r.Method == http.MethodPost && r.URL.Path == "/api/tasks":
			raw, _ := io.ReadAll(r.Body)
			body = string(raw)
			_, _ = io.WriteString(w, `{"success":true,"data":{"id":"t-9"}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()
	client := api.NewClient(&config.ServiceConfig{
		BaseURL:         server.URL + "/api",
		AnalysisBaseURL: "http://localhost:3001/analysis",
	}, server.Client())
	var submitted int64
	metrics := telemetry.Discard().AppMetrics
	metrics.ReportsSubmittedCnt = func(n int64) { submitted += n }
	b := New(client, metrics)
	require.NoError(t, b.Open(context.Background()))

	sub, err := b.Submit(context.Background())

	require.NoError(t, err)
	assert.Equal(t, Submission{TaskID: "t-9", URL: "http://localhost:3001/analysis/t-9"}, sub)
	assert.JSONEq(t, `{"type":"ANALYZE","priority":1,
		"analyzeConfig":{"contentIds":["42"],"profileIds":["jack"]}}`, body)
	assert.Equal(t, int64(1), submitted)
}
