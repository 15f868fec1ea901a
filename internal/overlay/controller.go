// Package overlay wires navigation, identity extraction, course-id discovery
// and task tracking into what the floating buttons display.
package overlay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/IliaW/content-overlay/internal/discovery"
	"github.com/IliaW/content-overlay/internal/extractor"
	"github.com/IliaW/content-overlay/internal/model"
	"github.com/IliaW/content-overlay/internal/telemetry"
	"github.com/IliaW/content-overlay/internal/tracker"
)

type Client interface {
	tracker.Client
	ExportURL(id string) string
}

// Opener opens a URL in a new tab.
type Opener interface {
	Open(url string) error
}

// EventSink takes overlay events without blocking. Publish reports false when
// the event was dropped.
type EventSink interface {
	Publish(event model.OverlayEvent) bool
}

type Prober interface {
	Probe(ctx context.Context, pageURL string)
}

type Deps struct {
	Registry *extractor.Registry
	Client   Client
	Env      tracker.Environment
	Bus      *discovery.Bus
	Prober   Prober
	Opener   Opener
	// Sink and Render are optional.
	Sink    EventSink
	Render  func(View)
	Metrics *telemetry.AppMetrics
}

type Controller struct {
	deps    Deps
	machine *tracker.Machine
	now     func() time.Time

	mu      sync.Mutex
	current model.ContentInfo
	// course is the Udemy course slug of the current page, empty elsewhere.
	// Course ids are probed and merged by slug, so query changes on the same
	// course keep the probe and its result valid.
	course      string
	probeCancel context.CancelFunc
	unsubscribe func()
}

// New builds the controller and its tracking machine. opts.OnChange is
// replaced by the controller's own handler.
func New(deps Deps, opts tracker.Options) *Controller {
	if deps.Registry == nil {
		deps.Registry = extractor.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = telemetry.Discard().AppMetrics
	}
	if deps.Render == nil {
		deps.Render = func(View) {}
	}
	c := &Controller{deps: deps, now: time.Now}
	opts.OnChange = c.onState
	if opts.Metrics == nil {
		opts.Metrics = deps.Metrics
	}
	c.machine = tracker.New(deps.Client, deps.Env, opts)
	if deps.Bus != nil {
		c.unsubscribe = deps.Bus.Subscribe(model.Udemy, c.onDiscovery)
	}
	return c
}

// HandleURL is the navigation callback. The machine is rebound only when the
// content identity actually changed. Udemy identities carry no id in the URL,
// so for them a different course slug counts as a change as well.
func (c *Controller) HandleURL(rawURL string) {
	info, ok := c.deps.Registry.Extract(rawURL)
	if !ok {
		info = model.ContentInfo{}
	}
	var course string
	if info.Platform == model.Udemy {
		course, _ = extractor.UdemyCourseSlug(rawURL)
	}
	c.deps.Metrics.NavigationChangesCnt(1)

	c.mu.Lock()
	defer c.mu.Unlock()
	if course != "" && course == c.course && c.current.Platform == model.Udemy {
		// same course, possibly with its id already merged
		return
	}
	if info == c.current && course == c.course {
		return
	}
	slog.Info("content identity changed.", slog.String("from", c.current.String()),
		slog.String("to", info.String()), slog.String("url", rawURL))
	c.current = info
	c.course = course
	c.stopProbeLocked()
	c.emit(model.OverlayEvent{Kind: model.EventIdentityChanged, Content: info})
	c.machine.Bind(info)

	if course != "" && info.ID == "" && c.deps.Prober != nil {
		ctx, cancel := context.WithCancel(context.Background())
		c.probeCancel = cancel
		go c.deps.Prober.Probe(ctx, rawURL)
	}
}

// onDiscovery merges a late course id into the current identity if the user
// is still on the course it was found on.
func (c *Controller) onDiscovery(d discovery.Discovery) {
	course, _ := extractor.UdemyCourseSlug(d.PageURL)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current.Platform != d.Platform || c.course == "" || c.course != course || c.current.ID == d.ID {
		slog.Debug("ignoring discovery for another page.", slog.String("url", d.PageURL),
			slog.String("id", d.ID))
		return
	}
	info := c.current
	info.ID = d.ID
	c.current = info
	c.stopProbeLocked()
	c.emit(model.OverlayEvent{Kind: model.EventIdentityChanged, Content: info})
	c.machine.Bind(info)
}

// Click runs the analyze button action and opens the analysis when it is ready.
func (c *Controller) Click(ctx context.Context) (tracker.ClickResult, error) {
	res, err := c.machine.Click(ctx)
	if err != nil {
		return res, err
	}
	switch res.Action {
	case tracker.ActionCreated:
		st := c.machine.State()
		c.emit(model.OverlayEvent{Kind: model.EventTaskCreated, Content: st.Content, Status: st.Status,
			TaskID: res.TaskID})
	case tracker.ActionOpenAnalysis:
		if err := c.deps.Opener.Open(res.URL); err != nil {
			return res, fmt.Errorf("open analysis: %w", err)
		}
	}
	return res, nil
}

// ExportClick opens the export download of an analyzed identity. It reports
// whether anything was opened.
func (c *Controller) ExportClick() (bool, error) {
	st := c.machine.State()
	if !ViewFor(st).ExportVisible {
		return false, nil
	}
	if err := c.deps.Opener.Open(c.deps.Client.ExportURL(st.Content.ID)); err != nil {
		return false, fmt.Errorf("open export: %w", err)
	}
	return true, nil
}

func (c *Controller) View() View {
	return ViewFor(c.machine.State())
}

func (c *Controller) State() tracker.State {
	return c.machine.State()
}

// Close stops polling, any course probe and the discovery subscription.
func (c *Controller) Close() {
	c.mu.Lock()
	c.stopProbeLocked()
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	c.machine.Close()
}

// onState runs under the machine lock. It must not touch c.mu or the machine.
func (c *Controller) onState(st tracker.State) {
	c.deps.Render(ViewFor(st))
	c.emit(model.OverlayEvent{Kind: model.EventStatusChanged, Content: st.Content, Status: st.Status,
		IsError: st.IsError})
}

func (c *Controller) emit(event model.OverlayEvent) {
	if c.deps.Sink == nil {
		return
	}
	event.ID = uuid.NewString()
	event.Timestamp = c.now().UTC()
	if !c.deps.Sink.Publish(event) {
		slog.Warn("overlay event dropped.", slog.String("kind", string(event.Kind)),
			slog.String("content", event.Content.String()))
	}
}

func (c *Controller) stopProbeLocked() {
	if c.probeCancel != nil {
		c.probeCancel()
		c.probeCancel = nil
	}
}
