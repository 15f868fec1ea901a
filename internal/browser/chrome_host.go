// Package browser drives a Chrome tab over the DevTools protocol. It is the
// live page the overlay watches, probes and draws on.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"

	"github.com/IliaW/content-overlay/config"
	"github.com/IliaW/content-overlay/internal/crawler"
	"github.com/IliaW/content-overlay/internal/extractor"
	"github.com/IliaW/content-overlay/internal/overlay"
)

type binding struct {
	tracksURL bool
	fn        func(payload string)
}

type ChromeHost struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc

	mu          sync.Mutex
	url         string
	mainFrameID cdp.FrameID
	bindings    map[string]binding

	reloads  chan struct{}
	renderCh chan struct{}
	renderMu sync.Mutex
	lastView *overlay.View
}

// NewChromeHost starts Chrome, opens one tab and navigates it to the start URL.
func NewChromeHost(parent context.Context, cfg *config.BrowserConfig, userAgent string) (*ChromeHost, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:], chromedp.Flag("headless", cfg.Headless))
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.UserDataDir))
	}
	if userAgent != "" {
		opts = append(opts, chromedp.UserAgent(userAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, opts...)
	ctx, cancel := chromedp.NewContext(allocCtx)

	h := &ChromeHost{
		ctx:         ctx,
		cancel:      cancel,
		allocCancel: allocCancel,
		bindings:    make(map[string]binding),
		reloads:     make(chan struct{}, 1),
		renderCh:    make(chan struct{}, 1),
	}
	chromedp.ListenTarget(ctx, h.onEvent)

	actions := chromedp.Tasks{page.Enable()}
	if cfg.StartURL != "" {
		actions = append(actions, chromedp.Navigate(cfg.StartURL))
	}
	var location string
	actions = append(actions, chromedp.Location(&location))
	if err := chromedp.Run(ctx, actions); err != nil {
		h.Close()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	h.setURL(location)
	slog.Info("browser tab ready.", slog.String("url", location), slog.Bool("headless", cfg.Headless))

	go h.renderLoop()
	return h, nil
}

func (h *ChromeHost) URL() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.url
}

func (h *ChromeHost) WrapHistory(after func()) (func(), error) {
	return h.install(historyBinding, historyInstall, historyRestore, true, func(string) { after() })
}

func (h *ChromeHost) OnPopState(fn func()) (func(), error) {
	return h.install(popStateBinding, popStateInstall, popStateRestore, true, func(string) { fn() })
}

func (h *ChromeHost) ObserveMutations(fn func()) (func(), error) {
	return h.install(mutationBinding, mutationInstall, mutationRestore, true, func(string) { fn() })
}

// InstallButtons injects the floating buttons. onPress receives "analyze",
// "export" or "report".
func (h *ChromeHost) InstallButtons(onPress func(button string)) (func(), error) {
	release, err := h.install(buttonBinding, buttonInstall, buttonRestore, false, onPress)
	if err != nil {
		return nil, err
	}
	h.rerender()
	return release, nil
}

// Render schedules v to be drawn. Only the latest view is drawn, so Render
// never blocks on the browser.
func (h *ChromeHost) Render(v overlay.View) {
	h.renderMu.Lock()
	h.lastView = &v
	h.renderMu.Unlock()
	h.rerender()
}

// ReadAttribute reads from the live tab. It reports not found while the tab
// shows another page than pageURL.
func (h *ChromeHost) ReadAttribute(ctx context.Context, pageURL, selector, attribute string) (string, bool, error) {
	if !SamePage(h.URL(), pageURL) {
		return "", false, nil
	}
	runCtx, cancel := context.WithCancel(h.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var res struct {
		Found bool   `json:"found"`
		Value string `json:"value"`
	}
	if err := chromedp.Run(runCtx, chromedp.Evaluate(crawler.AttributeScript(selector, attribute), &res)); err != nil {
		return "", false, fmt.Errorf("read attribute %s: %w", attribute, err)
	}
	return res.Value, res.Found, nil
}

// SamePage reports whether the tab at current still shows the page at want.
// Two URLs of one Udemy course are the same page whatever their query.
func SamePage(current, want string) bool {
	if current == want {
		return true
	}
	a, ok := extractor.UdemyCourseSlug(current)
	if !ok {
		return false
	}
	b, ok := extractor.UdemyCourseSlug(want)
	return ok && a == b
}

// Open shows url in a new tab.
func (h *ChromeHost) Open(url string) error {
	err := chromedp.Run(h.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := target.CreateTarget(url).Do(ctx)
		return err
	}))
	if err != nil {
		return fmt.Errorf("open %s: %w", url, err)
	}
	return nil
}

// Alive reports whether the tab can still be driven.
func (h *ChromeHost) Alive() bool {
	return h.ctx.Err() == nil
}

// Reload asks the owner of the host to start over. See Reloads.
func (h *ChromeHost) Reload() {
	select {
	case h.reloads <- struct{}{}:
	default:
	}
}

func (h *ChromeHost) Reloads() <-chan struct{} {
	return h.reloads
}

// ReloadPage reloads the document in the tab.
func (h *ChromeHost) ReloadPage() error {
	return chromedp.Run(h.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return page.Reload().Do(ctx)
	}))
}

func (h *ChromeHost) Done() <-chan struct{} {
	return h.ctx.Done()
}

func (h *ChromeHost) Close() {
	h.cancel()
	h.allocCancel()
}

// install adds a runtime binding, evaluates installJS in the current document
// and registers it for every new one. The returned release undoes all three.
func (h *ChromeHost) install(name, installJS, restoreJS string, tracksURL bool,
	fn func(string)) (func(), error) {
	h.mu.Lock()
	if _, ok := h.bindings[name]; ok {
		h.mu.Unlock()
		return nil, fmt.Errorf("binding %s already installed", name)
	}
	h.bindings[name] = binding{tracksURL: tracksURL, fn: fn}
	h.mu.Unlock()

	var scriptID page.ScriptIdentifier
	err := chromedp.Run(h.ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			if err := runtime.AddBinding(name).Do(ctx); err != nil {
				return err
			}
			id, err := page.AddScriptToEvaluateOnNewDocument(installJS).Do(ctx)
			scriptID = id
			return err
		}),
		chromedp.Evaluate(installJS, nil),
	)
	release := func() {
		h.mu.Lock()
		delete(h.bindings, name)
		h.mu.Unlock()
		if h.ctx.Err() != nil {
			return
		}
		err := chromedp.Run(h.ctx,
			chromedp.ActionFunc(func(ctx context.Context) error {
				if scriptID != "" {
					if err := page.RemoveScriptToEvaluateOnNewDocument(scriptID).Do(ctx); err != nil {
						return err
					}
				}
				return runtime.RemoveBinding(name).Do(ctx)
			}),
			chromedp.Evaluate(restoreJS, nil),
		)
		if err != nil {
			slog.Warn("failed to remove page hook.", slog.String("binding", name), slog.String("err", err.Error()))
		}
	}
	if err != nil {
		release()
		return nil, fmt.Errorf("install %s: %w", name, err)
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}

// onEvent runs on the chromedp event loop and must not block or call Run.
func (h *ChromeHost) onEvent(ev interface{}) {
	switch e := ev.(type) {
	case *runtime.EventBindingCalled:
		h.mu.Lock()
		b, ok := h.bindings[e.Name]
		if ok && b.tracksURL && e.Payload != "" {
			h.url = e.Payload
		}
		h.mu.Unlock()
		if ok {
			go b.fn(e.Payload)
		}
	case *page.EventFrameNavigated:
		if e.Frame.ParentID != "" {
			return
		}
		h.mu.Lock()
		h.mainFrameID = e.Frame.ID
		h.url = e.Frame.URL + e.Frame.URLFragment
		h.mu.Unlock()
		h.rerender()
	case *page.EventNavigatedWithinDocument:
		h.mu.Lock()
		if e.FrameID == h.mainFrameID {
			h.url = e.URL
		}
		h.mu.Unlock()
	}
}

func (h *ChromeHost) setURL(url string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.url = url
}

func (h *ChromeHost) rerender() {
	select {
	case h.renderCh <- struct{}{}:
	default:
	}
}

func (h *ChromeHost) renderLoop() {
	for {
		select {
		case <-h.ctx.Done():
			return
		case <-h.renderCh:
		}
		h.renderMu.Lock()
		v := h.lastView
		h.renderMu.Unlock()
		if v == nil {
			continue
		}
		script, err := RenderScript(*v)
		if err != nil {
			slog.Error("failed to encode view.", slog.String("err", err.Error()))
			continue
		}
		if err := chromedp.Run(h.ctx, chromedp.Evaluate(script, nil)); err != nil && h.ctx.Err() == nil {
			slog.Warn("failed to render overlay.", slog.String("err", err.Error()))
		}
	}
}

type renderView struct {
	Visible       bool   `json:"visible"`
	Disabled      bool   `json:"disabled"`
	Tone          string `json:"tone"`
	Tooltip       string `json:"tooltip"`
	ExportVisible bool   `json:"exportVisible"`
	BottomInset   int    `json:"bottomInset"`
}

// RenderScript draws v with the injected renderer, if it is installed.
func RenderScript(v overlay.View) (string, error) {
	raw, err := jsoniter.MarshalToString(renderView{
		Visible:       v.Visible,
		Disabled:      v.Disabled,
		Tone:          string(v.Tone),
		Tooltip:       v.Tooltip,
		ExportVisible: v.ExportVisible,
		BottomInset:   v.BottomInset,
	})
	if err != nil {
		return "", err
	}
	return "window.__overlayRender && window.__overlayRender(" + raw + ")", nil
}
