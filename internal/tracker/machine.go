// Package tracker follows the remote crawl → analyze lifecycle of the content
// currently on screen.
//
// A Machine holds at most one poll session. A session polls right away when
// it is created and then on every tick of a fixed interval, with no backoff
// and no attempt limit, until the identity is rebound or the machine is
// closed. A tick that arrives while the session's previous poll is still in
// flight is skipped. Every rebind bumps an epoch; a poll applies its result
// only if the epoch it started under is still current and no poll started
// after it has been applied already.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IliaW/content-overlay/internal/api"
	"github.com/IliaW/content-overlay/internal/model"
	"github.com/IliaW/content-overlay/internal/telemetry"
)

const DefaultInterval = 5 * time.Second

// Client is the part of the remote service contract the machine uses.
type Client interface {
	TaskStatus(ctx context.Context, id string) (model.TaskStatusResult, error)
	CreateTask(ctx context.Context, payload model.CreateTaskPayload) (string, error)
	AnalysisURL(id string) string
}

// Environment is the execution context hosting the machine.
type Environment interface {
	// Alive reports whether calls into the host can still succeed.
	Alive() bool
	// Reload discards everything and restarts the host from scratch.
	Reload()
}

type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	*time.Ticker
}

func (t timeTicker) C() <-chan time.Time {
	return t.Ticker.C
}

func NewTimeTicker(d time.Duration) Ticker {
	return timeTicker{time.NewTicker(d)}
}

var ErrAbandoned = errors.New("tracker abandoned after the host context was invalidated")

type State struct {
	Content             model.ContentInfo
	Status              model.TaskStatus
	IsError             bool
	ConsecutiveFailures int
	Abandoned           bool
}

type Action int

const (
	ActionNone Action = iota
	ActionCreated
	ActionOpenAnalysis
)

type ClickResult struct {
	Action Action
	TaskID string
	URL    string
}

type Options struct {
	Interval time.Duration
	// FailureWarnAfter logs a warning once that many polls in a row failed.
	// Polling goes on regardless.
	FailureWarnAfter int
	Priority         int
	NewTicker        func(time.Duration) Ticker
	// OnChange receives every new state. It runs with the machine lock held
	// and must not call back into the machine.
	OnChange func(State)
	Metrics  *telemetry.AppMetrics
}

type session struct {
	epoch    uint64
	id       string
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	inFlight atomic.Bool
}

type Machine struct {
	client Client
	env    Environment
	opts   Options

	mu       sync.Mutex
	state    State
	epoch    uint64
	session  *session
	creating bool
	// pollSeq numbers polls as they start. A result older than the last
	// applied one is dropped.
	pollSeq    uint64
	appliedSeq uint64
}

func New(client Client, env Environment, opts Options) *Machine {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Priority == 0 {
		opts.Priority = 1
	}
	if opts.NewTicker == nil {
		opts.NewTicker = NewTimeTicker
	}
	if opts.OnChange == nil {
		opts.OnChange = func(State) {}
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.Discard().AppMetrics
	}
	return &Machine{
		client: client,
		env:    env,
		opts:   opts,
		state:  State{Status: model.StatusNone},
	}
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Bind makes info the tracked identity. The previous session is stopped
// before anything else happens, status resets to NONE and the error flag is
// cleared. A session is started only for identities with an id.
func (m *Machine) Bind(info model.ContentInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Abandoned {
		return
	}

	m.stopSessionLocked()
	m.epoch++
	m.creating = false
	m.state = State{Content: info, Status: model.StatusNone}
	m.opts.OnChange(m.state)

	if info.ID == "" {
		slog.Debug("identity not actionable yet. polling paused.", slog.String("content", info.String()))
		return
	}
	m.startSessionLocked(info.ID)
}

// Close stops polling. Results of polls still in flight are discarded.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopSessionLocked()
	m.epoch++
}

// Click runs the action of the overlay button for the current status: NONE
// creates a crawl task and polls once right away, ANALYZED returns the
// analysis URL to open. Anything else, including an error state or a click
// while a creation is in flight, does nothing.
func (m *Machine) Click(ctx context.Context) (ClickResult, error) {
	m.mu.Lock()
	st, epoch := m.state, m.epoch
	if st.Abandoned {
		m.mu.Unlock()
		return ClickResult{}, ErrAbandoned
	}
	if !st.Content.Actionable() || st.IsError || m.creating {
		m.mu.Unlock()
		return ClickResult{}, nil
	}
	switch st.Status {
	case model.StatusAnalyzed:
		m.mu.Unlock()
		return ClickResult{Action: ActionOpenAnalysis, URL: m.client.AnalysisURL(st.Content.ID)}, nil
	case model.StatusNone:
		m.creating = true
		m.mu.Unlock()
	default:
		m.mu.Unlock()
		return ClickResult{}, nil
	}

	if !m.env.Alive() {
		m.abandon("host context is gone")
		return ClickResult{}, ErrAbandoned
	}

	taskID, err := m.client.CreateTask(ctx, model.NewCrawlPayload(st.Content, m.opts.Priority))

	m.mu.Lock()
	current := epoch == m.epoch && !m.state.Abandoned
	if err != nil {
		if current {
			m.creating = false
		}
		if errors.Is(err, api.ErrContextInvalidated) {
			m.mu.Unlock()
			m.abandon("task creation reported an invalidated context")
			return ClickResult{}, ErrAbandoned
		}
		if current {
			m.state.IsError = true
			m.opts.OnChange(m.state)
		}
		m.mu.Unlock()
		slog.Error("failed to create task.", slog.String("content", st.Content.String()),
			slog.String("err", err.Error()))
		return ClickResult{}, fmt.Errorf("create task: %w", err)
	}
	m.mu.Unlock()

	m.opts.Metrics.TasksCreatedCnt(1)
	slog.Info("crawl task created.", slog.String("content", st.Content.String()), slog.String("task", taskID))
	// clicks stay blocked until the new status is known
	m.poll(ctx, epoch, st.Content.ID, nil)
	m.mu.Lock()
	if epoch == m.epoch {
		m.creating = false
	}
	m.mu.Unlock()

	return ClickResult{Action: ActionCreated, TaskID: taskID}, nil
}

func (m *Machine) startSessionLocked(id string) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		epoch:  m.epoch,
		id:     id,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.session = s
	go m.run(s, m.opts.NewTicker(m.opts.Interval))
}

// stopSessionLocked cancels the session and waits for its ticker goroutine to
// exit. run never takes m.mu, so waiting here cannot deadlock.
func (m *Machine) stopSessionLocked() {
	if m.session == nil {
		return
	}
	m.session.cancel()
	<-m.session.done
	m.session = nil
}

func (m *Machine) run(s *session, ticker Ticker) {
	defer close(s.done)
	defer ticker.Stop()

	m.startPoll(s)
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C():
			m.startPoll(s)
		}
	}
}

// startPoll polls unless the session still waits for its previous poll.
func (m *Machine) startPoll(s *session) {
	if !s.inFlight.CompareAndSwap(false, true) {
		slog.Debug("previous poll still in flight. skipping tick.", slog.String("id", s.id))
		return
	}
	go m.poll(s.ctx, s.epoch, s.id, &s.inFlight)
}

// poll fetches the status once and applies it. inFlight, when set, is cleared
// under the machine lock before the result becomes visible.
func (m *Machine) poll(ctx context.Context, epoch uint64, id string, inFlight *atomic.Bool) {
	release := func() {
		if inFlight != nil {
			inFlight.Store(false)
		}
	}
	if !m.env.Alive() {
		release()
		m.abandon("host context is gone")
		return
	}

	m.mu.Lock()
	m.pollSeq++
	seq := m.pollSeq
	m.mu.Unlock()

	res, err := m.client.TaskStatus(ctx, id)

	m.mu.Lock()
	release()
	if m.state.Abandoned || epoch != m.epoch || seq < m.appliedSeq {
		m.mu.Unlock()
		slog.Debug("discarding stale poll result.", slog.String("id", id))
		return
	}
	m.appliedSeq = seq
	if err != nil {
		if errors.Is(err, api.ErrContextInvalidated) {
			m.mu.Unlock()
			m.abandon("status poll reported an invalidated context")
			return
		}
		m.state.IsError = true
		m.state.ConsecutiveFailures++
		failures := m.state.ConsecutiveFailures
		m.opts.OnChange(m.state)
		m.mu.Unlock()

		m.opts.Metrics.PollFailedCnt(1)
		slog.Warn("failed to poll task status.", slog.String("id", id), slog.String("err", err.Error()))
		if failures == m.opts.FailureWarnAfter {
			slog.Warn("task status keeps failing. still polling.", slog.String("id", id),
				slog.Int("consecutive failures", failures))
		}
		return
	}

	changed := m.state.Status != res.Status || m.state.IsError
	m.state.Status = res.Status
	m.state.IsError = false
	m.state.ConsecutiveFailures = 0
	if changed {
		m.opts.OnChange(m.state)
	}
	m.mu.Unlock()

	m.opts.Metrics.PollSucceededCnt(1)
	switch {
	case changed && res.Status.Terminal():
		slog.Info("task finished. polling continues until the identity changes.", slog.String("id", id),
			slog.String("status", string(res.Status)))
	case changed:
		slog.Debug("task status changed.", slog.String("id", id), slog.String("status", string(res.Status)))
	}
}

// abandon freezes the machine and asks the environment for a reload. Only the
// first caller triggers the reload.
func (m *Machine) abandon(reason string) {
	m.mu.Lock()
	if m.state.Abandoned {
		m.mu.Unlock()
		return
	}
	m.state.Abandoned = true
	m.epoch++
	if m.session != nil {
		m.session.cancel()
		m.session = nil
	}
	m.opts.OnChange(m.state)
	m.mu.Unlock()

	slog.Warn("host context invalidated. reloading.", slog.String("reason", reason))
	m.env.Reload()
}
