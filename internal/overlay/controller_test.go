package overlay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IliaW/content-overlay/internal/discovery"
	"github.com/IliaW/content-overlay/internal/model"
	"github.com/IliaW/content-overlay/internal/tracker"
)

const (
	waitFor = time.Second
	tick    = time.Millisecond

	tweetURL  = "https://x.com/user/status/42"
	courseURL = "https://www.udemy.com/course/go-the-complete-guide/"
)

type fakeClient struct {
	mu       sync.Mutex
	statuses map[string]model.TaskStatus
	polled   []string
}

func (c *fakeClient) TaskStatus(_ context.Context, id string) (model.TaskStatusResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.polled = append(c.polled, id)
	status, ok := c.statuses[id]
	if !ok {
		status = model.StatusNone
	}
	return model.TaskStatusResult{Status: status}, nil
}

func (c *fakeClient) CreateTask(_ context.Context, payload model.CreateTaskPayload) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[payload.CrawlConfig.TargetID] = model.StatusCrawling
	return "task-1", nil
}

func (c *fakeClient) AnalysisURL(id string) string { return "http://localhost:3001/analysis/" + id }
func (c *fakeClient) ExportURL(id string) string   { return "http://localhost:3000/export/" + id }

func (c *fakeClient) set(id string, status model.TaskStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[id] = status
}

func (c *fakeClient) wasPolled(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.polled {
		if p == id {
			return true
		}
	}
	return false
}

type aliveEnv struct{}

func (aliveEnv) Alive() bool { return true }
func (aliveEnv) Reload()     {}

type fakeOpener struct {
	mu     sync.Mutex
	opened []string
}

func (o *fakeOpener) Open(url string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opened = append(o.opened, url)
	return nil
}

type fakeSink struct {
	mu     sync.Mutex
	events []model.OverlayEvent
	full   bool
}

func (s *fakeSink) Publish(event model.OverlayEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full {
		return false
	}
	s.events = append(s.events, event)
	return true
}

func (s *fakeSink) count(kind model.EventKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

type probe struct {
	ctx context.Context
	url string
}

type fakeProber struct {
	mu     sync.Mutex
	probes []probe
}

func (p *fakeProber) Probe(ctx context.Context, pageURL string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.probes = append(p.probes, probe{ctx: ctx, url: pageURL})
}

func (p *fakeProber) get(i int) (probe, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i >= len(p.probes) {
		return probe{}, false
	}
	return p.probes[i], true
}

type fixture struct {
	client *fakeClient
	opener *fakeOpener
	sink   *fakeSink
	prober *fakeProber
	bus    *discovery.Bus
	ctrl   *Controller
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		client: &fakeClient{statuses: make(map[string]model.TaskStatus)},
		opener: &fakeOpener{},
		sink:   &fakeSink{},
		prober: &fakeProber{},
		bus:    discovery.NewBus(),
	}
	f.ctrl = New(Deps{
		Client: f.client,
		Env:    aliveEnv{},
		Bus:    f.bus,
		Prober: f.prober,
		Opener: f.opener,
		Sink:   f.sink,
	}, tracker.Options{Interval: time.Hour})
	t.Cleanup(f.ctrl.Close)
	return f
}

func TestController_RecognizedURLBindsIdentity(t *testing.T) {
	f := newFixture(t)

	f.ctrl.HandleURL(tweetURL)

	want := model.ContentInfo{ID: "42", Platform: model.Twitter, CrawlType: model.Post}
	assert.Equal(t, want, f.ctrl.State().Content)
	require.Eventually(t, func() bool { return f.client.wasPolled("42") }, waitFor, tick)
	v := f.ctrl.View()
	assert.True(t, v.Visible)
	assert.Equal(t, TooltipAnalyze, v.Tooltip)
	assert.Equal(t, 146, v.BottomInset)
}

func TestController_SameIdentityDoesNotRebind(t *testing.T) {
	f := newFixture(t)

	f.ctrl.HandleURL(tweetURL)
	f.ctrl.HandleURL(tweetURL + "?s=20")
	f.ctrl.HandleURL("https://twitter.com/user/status/42")

	assert.Equal(t, 1, f.sink.count(model.EventIdentityChanged))
}

func TestController_UnrecognizedURLHidesButton(t *testing.T) {
	f := newFixture(t)
	f.ctrl.HandleURL(tweetURL)

	f.ctrl.HandleURL("https://example.com/")

	assert.Equal(t, model.ContentInfo{}, f.ctrl.State().Content)
	assert.False(t, f.ctrl.View().Visible)
}

func TestController_CourseIDDiscovery(t *testing.T) {
	f := newFixture(t)

	f.ctrl.HandleURL(courseURL)
	assert.False(t, f.ctrl.View().Visible)
	require.Eventually(t, func() bool { _, ok := f.prober.get(0); return ok }, waitFor, tick)
	p, _ := f.prober.get(0)
	assert.Equal(t, courseURL, p.url)

	f.bus.Publish(discovery.Discovery{Platform: model.Udemy, PageURL: courseURL, ID: "1234"})

	want := model.ContentInfo{ID: "1234", Platform: model.Udemy, CrawlType: model.Course}
	assert.Equal(t, want, f.ctrl.State().Content)
	assert.True(t, f.ctrl.View().Visible)
	require.Eventually(t, func() bool { return f.client.wasPolled("1234") }, waitFor, tick)
	assert.Error(t, p.ctx.Err())
}

func TestController_StaleDiscoveryIsIgnored(t *testing.T) {
	f := newFixture(t)
	other := "https://www.udemy.com/course/rust-in-depth/"

	f.ctrl.HandleURL(courseURL)
	require.Eventually(t, func() bool { _, ok := f.prober.get(0); return ok }, waitFor, tick)
	f.ctrl.HandleURL(other)
	require.Eventually(t, func() bool { _, ok := f.prober.get(1); return ok }, waitFor, tick)

	first, _ := f.prober.get(0)
	assert.Error(t, first.ctx.Err())

	f.bus.Publish(discovery.Discovery{Platform: model.Udemy, PageURL: courseURL, ID: "1234"})
	assert.Empty(t, f.ctrl.State().Content.ID)

	f.ctrl.HandleURL(tweetURL)
	f.bus.Publish(discovery.Discovery{Platform: model.Udemy, PageURL: other, ID: "5678"})
	assert.Equal(t, "42", f.ctrl.State().Content.ID)
}

func TestController_CourseQueryChangeKeepsProbe(t *testing.T) {
	f := newFixture(t)

	f.ctrl.HandleURL(courseURL)
	require.Eventually(t, func() bool { _, ok := f.prober.get(0); return ok }, waitFor, tick)
	f.ctrl.HandleURL(courseURL + "?couponCode=SPRING")

	first, _ := f.prober.get(0)
	assert.NoError(t, first.ctx.Err())
	assert.Never(t, func() bool { _, ok := f.prober.get(1); return ok }, 50*time.Millisecond, tick)

	f.bus.Publish(discovery.Discovery{Platform: model.Udemy, PageURL: courseURL, ID: "1234"})

	want := model.ContentInfo{ID: "1234", Platform: model.Udemy, CrawlType: model.Course}
	assert.Equal(t, want, f.ctrl.State().Content)

	f.ctrl.HandleURL(courseURL + "learn/lecture/7")
	assert.Equal(t, want, f.ctrl.State().Content)
	assert.Equal(t, 2, f.sink.count(model.EventIdentityChanged))
}

func TestController_NextCourseStartsNewProbe(t *testing.T) {
	f := newFixture(t)
	other := "https://www.udemy.com/course/rust-in-depth/"

	f.ctrl.HandleURL(courseURL)
	require.Eventually(t, func() bool { _, ok := f.prober.get(0); return ok }, waitFor, tick)
	f.ctrl.HandleURL(other)
	require.Eventually(t, func() bool { _, ok := f.prober.get(1); return ok }, waitFor, tick)

	second, _ := f.prober.get(1)
	assert.Equal(t, other, second.url)
	f.bus.Publish(discovery.Discovery{Platform: model.Udemy, PageURL: other + "?couponCode=X", ID: "5678"})

	want := model.ContentInfo{ID: "5678", Platform: model.Udemy, CrawlType: model.Course}
	assert.Equal(t, want, f.ctrl.State().Content)
	assert.Error(t, second.ctx.Err())
}

func TestController_ClickCreatesThenOpensAnalysis(t *testing.T) {
	f := newFixture(t)
	f.ctrl.HandleURL(tweetURL)
	require.Eventually(t, func() bool { return f.client.wasPolled("42") }, waitFor, tick)

	res, err := f.ctrl.Click(context.Background())
	require.NoError(t, err)
	assert.Equal(t, tracker.ActionCreated, res.Action)
	require.Eventually(t, func() bool { return f.ctrl.View().Tooltip == TooltipCrawling }, waitFor, tick)
	assert.Equal(t, 1, f.sink.count(model.EventTaskCreated))

	f.client.set("42", model.StatusAnalyzed)
	f.ctrl.HandleURL("https://example.com/")
	f.ctrl.HandleURL(tweetURL)
	require.Eventually(t, func() bool { return f.ctrl.View().Status == model.StatusAnalyzed }, waitFor, tick)

	res, err = f.ctrl.Click(context.Background())
	require.NoError(t, err)
	assert.Equal(t, tracker.ActionOpenAnalysis, res.Action)

	opened, err := f.ctrl.ExportClick()
	require.NoError(t, err)
	assert.True(t, opened)
	assert.Equal(t, []string{
		"http://localhost:3001/analysis/42",
		"http://localhost:3000/export/42",
	}, f.opener.opened)
}

func TestController_ExportClickNeedsAnalysis(t *testing.T) {
	f := newFixture(t)
	f.ctrl.HandleURL(tweetURL)

	opened, err := f.ctrl.ExportClick()

	require.NoError(t, err)
	assert.False(t, opened)
	assert.Empty(t, f.opener.opened)
}

func TestController_FullSinkDoesNotBlock(t *testing.T) {
	f := newFixture(t)
	f.sink.full = true

	f.ctrl.HandleURL(tweetURL)

	assert.Equal(t, "42", f.ctrl.State().Content.ID)
}

func TestController_EventsCarryIDAndTime(t *testing.T) {
	f := newFixture(t)

	f.ctrl.HandleURL(tweetURL)

	f.sink.mu.Lock()
	defer f.sink.mu.Unlock()
	require.NotEmpty(t, f.sink.events)
	for _, e := range f.sink.events {
		assert.NotEmpty(t, e.ID)
		assert.False(t, e.Timestamp.IsZero())
		assert.Equal(t, time.UTC, e.Timestamp.Location())
	}
}

func TestViewFor(t *testing.T) {
	tweet := model.ContentInfo{ID: "42", Platform: model.Twitter, CrawlType: model.Post}
	tests := []struct {
		name   string
		state  tracker.State
		tone   Tone
		tip    string
		export bool
	}{
		{"none", tracker.State{Content: tweet, Status: model.StatusNone}, TonePrimary, TooltipAnalyze, false},
		{"crawling", tracker.State{Content: tweet, Status: model.StatusCrawling}, ToneLoading, TooltipCrawling, false},
		{"crawled", tracker.State{Content: tweet, Status: model.StatusCrawled}, ToneBusy, TooltipAnalyzing, false},
		{"analyzing", tracker.State{Content: tweet, Status: model.StatusAnalyzing}, ToneBusy, TooltipAnalyzing, false},
		{"analyzed", tracker.State{Content: tweet, Status: model.StatusAnalyzed}, ToneSuccess, TooltipAnalyzed, true},
		{"failed", tracker.State{Content: tweet, Status: model.StatusFailed}, ToneFailure, TooltipFailed, false},
		{"error wins", tracker.State{Content: tweet, Status: model.StatusAnalyzed, IsError: true}, ToneOffline, TooltipOffline, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := ViewFor(tt.state)

			assert.True(t, v.Visible)
			assert.Equal(t, tt.tone, v.Tone)
			assert.Equal(t, tt.tip, v.Tooltip)
			assert.Equal(t, tt.export, v.ExportVisible)
			assert.Equal(t, tt.state.IsError, v.Disabled)
		})
	}
}

func TestViewFor_HiddenUntilActionable(t *testing.T) {
	v := ViewFor(tracker.State{Content: model.ContentInfo{Platform: model.Facebook}})

	assert.False(t, v.Visible)
	assert.Equal(t, 474, v.BottomInset)
}
