package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IliaW/content-overlay/internal/api"
	"github.com/IliaW/content-overlay/internal/model"
	"github.com/IliaW/content-overlay/internal/telemetry"
)

const (
	waitFor = time.Second
	tick    = time.Millisecond
)

var tweet = model.ContentInfo{ID: "42", Platform: model.Twitter, CrawlType: model.Post}

type fakeClient struct {
	mu                sync.Mutex
	statuses          map[string]model.TaskStatus
	failures          map[string]int
	invalidated       bool
	blocks            map[string]chan struct{}
	calls             map[string]int
	created           []model.CreateTaskPayload
	createErr         error
	createBlock       chan struct{}
	statusAfterCreate model.TaskStatus
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		statuses: make(map[string]model.TaskStatus),
		failures: make(map[string]int),
		blocks:   make(map[string]chan struct{}),
		calls:    make(map[string]int),
	}
}

func (c *fakeClient) TaskStatus(_ context.Context, id string) (model.TaskStatusResult, error) {
	// the status is read when the request arrives; a block only delays the answer
	c.mu.Lock()
	c.calls[id]++
	block := c.blocks[id]
	delete(c.blocks, id)
	status, ok := c.statuses[id]
	if !ok {
		status = model.StatusNone
	}
	c.mu.Unlock()

	if block != nil {
		<-block
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.invalidated {
		return model.TaskStatusResult{}, &api.ServiceError{Op: "get task status", Message: "Extension context invalidated."}
	}
	if c.failures[id] > 0 {
		c.failures[id]--
		return model.TaskStatusResult{}, errors.New("connection refused")
	}
	return model.TaskStatusResult{Status: status, TaskID: "task-" + id}, nil
}

func (c *fakeClient) CreateTask(_ context.Context, payload model.CreateTaskPayload) (string, error) {
	if c.createBlock != nil {
		<-c.createBlock
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.createErr != nil {
		return "", c.createErr
	}
	c.created = append(c.created, payload)
	if c.statusAfterCreate != "" {
		c.statuses[payload.CrawlConfig.TargetID] = c.statusAfterCreate
	}
	return fmt.Sprintf("task-%d", len(c.created)), nil
}

func (c *fakeClient) AnalysisURL(id string) string {
	return "http://localhost:3001/analysis/" + id
}

func (c *fakeClient) set(id string, status model.TaskStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[id] = status
}

func (c *fakeClient) fail(id string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[id] = n
}

// block delays the answer to the next status request for id.
func (c *fakeClient) block(id string) chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan struct{})
	c.blocks[id] = ch
	return ch
}

func (c *fakeClient) Calls(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[id]
}

func (c *fakeClient) Created() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.created)
}

type fakeEnv struct {
	dead    atomic.Bool
	reloads atomic.Int32
}

func (e *fakeEnv) Alive() bool { return !e.dead.Load() }
func (e *fakeEnv) Reload()     { e.reloads.Add(1) }

type manualTicker struct {
	ch      chan time.Time
	stopped atomic.Bool
}

func (t *manualTicker) C() <-chan time.Time { return t.ch }
func (t *manualTicker) Stop()               { t.stopped.Store(true) }

type harness struct {
	t       *testing.T
	client  *fakeClient
	env     *fakeEnv
	machine *Machine
	applied atomic.Int64

	mu      sync.Mutex
	tickers []*manualTicker
	states  []State
}

func newHarness(t *testing.T) *harness {
	h := &harness{t: t, client: newFakeClient(), env: &fakeEnv{}}
	metrics := telemetry.Discard().AppMetrics
	metrics.PollSucceededCnt = func(n int64) { h.applied.Add(n) }
	h.machine = New(h.client, h.env, Options{
		Interval: time.Hour,
		NewTicker: func(time.Duration) Ticker {
			h.mu.Lock()
			defer h.mu.Unlock()
			mt := &manualTicker{ch: make(chan time.Time)}
			h.tickers = append(h.tickers, mt)
			return mt
		},
		OnChange: func(s State) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.states = append(h.states, s)
		},
		Metrics: metrics,
	})
	t.Cleanup(h.machine.Close)
	return h
}

func (h *harness) ticker(i int) *manualTicker {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tickers[i]
}

func (h *harness) fire(i int) {
	h.ticker(i).ch <- time.Now()
}

func (h *harness) waitApplied(n int64) {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return h.applied.Load() >= n }, waitFor, tick)
}

func (h *harness) waitStatus(status model.TaskStatus) {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return h.machine.State().Status == status }, waitFor, tick)
}

func (h *harness) errorFlags() []bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	var flags []bool
	for _, s := range h.states {
		if len(flags) == 0 || flags[len(flags)-1] != s.IsError {
			flags = append(flags, s.IsError)
		}
	}
	return flags
}

func TestMachine_PollsImmediatelyOnBind(t *testing.T) {
	h := newHarness(t)
	h.client.set("42", model.StatusCrawled)

	h.machine.Bind(tweet)

	h.waitStatus(model.StatusCrawled)
	assert.Equal(t, 1, h.client.Calls("42"))
}

func TestMachine_ClickCreatesThenPollsThenOpensAnalysis(t *testing.T) {
	h := newHarness(t)
	h.client.statusAfterCreate = model.StatusCrawling
	h.machine.Bind(tweet)
	h.waitApplied(1)
	require.Equal(t, model.StatusNone, h.machine.State().Status)

	res, err := h.machine.Click(context.Background())

	require.NoError(t, err)
	assert.Equal(t, ActionCreated, res.Action)
	assert.Equal(t, "task-1", res.TaskID)
	// the status advances without waiting for the next tick
	assert.Equal(t, model.StatusCrawling, h.machine.State().Status)
	require.Len(t, h.client.created, 1)
	assert.Equal(t, model.CreateTaskPayload{
		Type:     model.TaskCrawl,
		Priority: 1,
		CrawlConfig: &model.CrawlConfig{
			Platform: model.Twitter, CrawlType: model.Post, TargetID: "42",
		},
	}, h.client.created[0])

	h.client.set("42", model.StatusAnalyzed)
	h.fire(0)
	h.waitStatus(model.StatusAnalyzed)

	res, err = h.machine.Click(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ClickResult{Action: ActionOpenAnalysis, URL: "http://localhost:3001/analysis/42"}, res)
	assert.Equal(t, 1, h.client.Created())
}

func TestMachine_ClickIsNoOpWhileWorkIsInFlight(t *testing.T) {
	for _, status := range []model.TaskStatus{
		model.StatusCrawling, model.StatusCrawled, model.StatusAnalyzing, model.StatusFailed,
	} {
		t.Run(string(status), func(t *testing.T) {
			h := newHarness(t)
			h.client.set("42", status)
			h.machine.Bind(tweet)
			h.waitStatus(status)

			res, err := h.machine.Click(context.Background())

			require.NoError(t, err)
			assert.Equal(t, ActionNone, res.Action)
			assert.Zero(t, h.client.Created())
		})
	}
}

func TestMachine_SecondClickDuringCreateIsIgnored(t *testing.T) {
	h := newHarness(t)
	h.client.createBlock = make(chan struct{})
	h.machine.Bind(tweet)
	h.waitApplied(1)

	first := make(chan ClickResult)
	go func() {
		res, _ := h.machine.Click(context.Background())
		first <- res
	}()
	require.Eventually(t, func() bool {
		h.machine.mu.Lock()
		defer h.machine.mu.Unlock()
		return h.machine.creating
	}, waitFor, tick)

	res, err := h.machine.Click(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ActionNone, res.Action)

	close(h.client.createBlock)
	assert.Equal(t, ActionCreated, (<-first).Action)
	assert.Equal(t, 1, h.client.Created())
}

func TestMachine_CreateFailureSetsErrorAndKeepsNone(t *testing.T) {
	h := newHarness(t)
	h.client.createErr = errors.New("service unavailable")
	h.machine.Bind(tweet)
	h.waitApplied(1)

	_, err := h.machine.Click(context.Background())

	require.Error(t, err)
	st := h.machine.State()
	assert.True(t, st.IsError)
	assert.Equal(t, model.StatusNone, st.Status)
	assert.Zero(t, h.env.reloads.Load())
}

func TestMachine_TransientFailureIsClearedByNextSuccess(t *testing.T) {
	h := newHarness(t)
	h.client.fail("42", 1)
	h.client.set("42", model.StatusAnalyzed)

	h.machine.Bind(tweet)
	require.Eventually(t, func() bool { return h.machine.State().IsError }, waitFor, tick)
	assert.Equal(t, 1, h.machine.State().ConsecutiveFailures)

	h.fire(0)
	h.waitStatus(model.StatusAnalyzed)

	st := h.machine.State()
	assert.False(t, st.IsError)
	assert.Zero(t, st.ConsecutiveFailures)
	assert.Equal(t, []bool{false, true, false}, h.errorFlags())
}

func TestMachine_FailureKeepsLastKnownStatus(t *testing.T) {
	h := newHarness(t)
	h.client.set("42", model.StatusAnalyzing)
	h.machine.Bind(tweet)
	h.waitStatus(model.StatusAnalyzing)

	h.client.fail("42", 3)
	for i := 1; i <= 3; i++ {
		h.fire(0)
		require.Eventually(t, func() bool { return h.machine.State().ConsecutiveFailures == i }, waitFor, tick)
	}

	st := h.machine.State()
	assert.True(t, st.IsError)
	assert.Equal(t, model.StatusAnalyzing, st.Status)
}

func TestMachine_StalePollIsDiscarded(t *testing.T) {
	h := newHarness(t)
	a := model.ContentInfo{ID: "A", Platform: model.Twitter, CrawlType: model.Post}
	b := model.ContentInfo{ID: "B", Platform: model.Twitter, CrawlType: model.Post}
	c := model.ContentInfo{ID: "C", Platform: model.Twitter, CrawlType: model.Post}
	h.client.set("A", model.StatusCrawling)
	h.client.set("B", model.StatusFailed)
	h.client.set("C", model.StatusCrawled)
	release := h.client.block("B")

	h.machine.Bind(a)
	h.waitStatus(model.StatusCrawling)
	h.machine.Bind(b)
	require.Eventually(t, func() bool { return h.client.Calls("B") == 1 }, waitFor, tick)
	h.machine.Bind(c)
	h.waitStatus(model.StatusCrawled)

	close(release)

	assert.Never(t, func() bool { return h.machine.State().Status != model.StatusCrawled }, 50*time.Millisecond, tick)
	assert.Equal(t, c, h.machine.State().Content)
}

func TestMachine_RebindStopsPreviousTicker(t *testing.T) {
	h := newHarness(t)
	h.machine.Bind(tweet)
	h.machine.Bind(model.ContentInfo{ID: "43", Platform: model.Twitter, CrawlType: model.Post})

	assert.True(t, h.ticker(0).stopped.Load())
	assert.False(t, h.ticker(1).stopped.Load())
}

func TestMachine_RebindResetsStatusAndError(t *testing.T) {
	h := newHarness(t)
	h.client.fail("42", 1)
	h.machine.Bind(tweet)
	require.Eventually(t, func() bool { return h.machine.State().IsError }, waitFor, tick)

	release := h.client.block("43")
	next := model.ContentInfo{ID: "43", Platform: model.Twitter, CrawlType: model.Post}
	h.machine.Bind(next)

	st := h.machine.State()
	assert.Equal(t, next, st.Content)
	assert.Equal(t, model.StatusNone, st.Status)
	assert.False(t, st.IsError)
	close(release)
}

func TestMachine_NoSessionWithoutID(t *testing.T) {
	h := newHarness(t)

	h.machine.Bind(model.ContentInfo{Platform: model.Udemy, CrawlType: model.Course})

	h.mu.Lock()
	assert.Empty(t, h.tickers)
	h.mu.Unlock()
	res, err := h.machine.Click(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ActionNone, res.Action)
}

func TestMachine_InvalidatedContextReloadsOnce(t *testing.T) {
	h := newHarness(t)
	h.client.invalidated = true

	h.machine.Bind(tweet)
	require.Eventually(t, func() bool { return h.env.reloads.Load() == 1 }, waitFor, tick)
	h.machine.Bind(model.ContentInfo{ID: "43", Platform: model.Twitter, CrawlType: model.Post})

	assert.True(t, h.machine.State().Abandoned)
	assert.Equal(t, int32(1), h.env.reloads.Load())
	assert.Equal(t, tweet, h.machine.State().Content)
	_, err := h.machine.Click(context.Background())
	assert.ErrorIs(t, err, ErrAbandoned)
}

func TestMachine_DeadHostAbandonsBeforePolling(t *testing.T) {
	h := newHarness(t)
	h.env.dead.Store(true)

	h.machine.Bind(tweet)

	require.Eventually(t, func() bool { return h.env.reloads.Load() == 1 }, waitFor, tick)
	assert.Zero(t, h.client.Calls("42"))
	assert.True(t, h.machine.State().Abandoned)
}

func TestMachine_TickIsSkippedWhilePollInFlight(t *testing.T) {
	h := newHarness(t)
	h.client.set("42", model.StatusCrawling)
	release := h.client.block("42")
	h.machine.Bind(tweet)
	require.Eventually(t, func() bool { return h.client.Calls("42") == 1 }, waitFor, tick)

	h.client.set("42", model.StatusAnalyzed)
	h.fire(0)
	assert.Never(t, func() bool { return h.client.Calls("42") > 1 }, 50*time.Millisecond, tick)

	close(release)
	h.waitStatus(model.StatusCrawling)
	h.fire(0)
	h.waitStatus(model.StatusAnalyzed)
	assert.Equal(t, 2, h.client.Calls("42"))
}

func TestMachine_SlowFirstPollCannotUndoCreate(t *testing.T) {
	h := newHarness(t)
	h.client.statusAfterCreate = model.StatusCrawling
	release := h.client.block("42")
	h.machine.Bind(tweet)
	require.Eventually(t, func() bool { return h.client.Calls("42") == 1 }, waitFor, tick)

	res, err := h.machine.Click(context.Background())
	require.NoError(t, err)
	require.Equal(t, ActionCreated, res.Action)
	require.Equal(t, model.StatusCrawling, h.machine.State().Status)

	// the first poll answers NONE, read before the task existed
	close(release)
	assert.Never(t, func() bool { return h.machine.State().Status != model.StatusCrawling },
		50*time.Millisecond, tick)

	res, err = h.machine.Click(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ActionNone, res.Action)
	assert.Equal(t, 1, h.client.Created())
}
