package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
)

// BrowserReader renders the page in a fresh headless tab before reading, for
// attributes that only appear once scripts have run.
type BrowserReader struct {
	timeout   time.Duration
	userAgent string
}

func NewBrowserReader(timeout time.Duration, userAgent string) *BrowserReader {
	return &BrowserReader{timeout: timeout, userAgent: userAgent}
}

type attributeResult struct {
	Found bool   `json:"found"`
	Value string `json:"value"`
}

// AttributeScript evaluates to {found, value} for the first element matching
// selector. It never throws, also not for a missing element.
func AttributeScript(selector, attribute string) string {
	sel, _ := jsoniter.MarshalToString(selector)
	attr, _ := jsoniter.MarshalToString(attribute)
	return fmt.Sprintf(`(() => {
	const el = document.querySelector(%s);
	if (!el || !el.hasAttribute(%s)) return {found: false, value: ""};
	return {found: true, value: el.getAttribute(%s)};
})()`, sel, attr, attr)
}

func (r *BrowserReader) ReadAttribute(ctx context.Context, pageURL, selector, attribute string) (string, bool, error) {
	startTime := time.Now()
	tCtx, cancelTCtx := context.WithTimeout(ctx, r.timeout)
	defer cancelTCtx()
	bCtx, cancel := chromedp.NewContext(tCtx)
	defer cancel()

	var res attributeResult
	err := chromedp.Run(bCtx,
		chromedp.Tasks{
			network.Enable(),
			network.SetExtraHTTPHeaders(map[string]interface{}{
				"User-Agent": r.userAgent,
			}),
			enableLifeCycleEvents(),
			navigateAndWaitFor(pageURL, "networkIdle"),
		},
		chromedp.Evaluate(AttributeScript(selector, attribute), &res),
	)
	slog.Debug("page rendered.", slog.String("url", pageURL), slog.Bool("found", res.Found),
		slog.Int64("ms", time.Since(startTime).Milliseconds()))
	if err != nil {
		return "", false, fmt.Errorf("render %s: %w", pageURL, err)
	}
	return res.Value, res.Found, nil
}

func enableLifeCycleEvents() chromedp.ActionFunc {
	return func(ctx context.Context) error {
		err := page.Enable().Do(ctx)
		if err != nil {
			return err
		}
		return page.SetLifecycleEventsEnabled(true).Do(ctx)
	}
}

func navigateAndWaitFor(url string, eventName string) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		_, _, _, err := page.Navigate(url).Do(ctx)
		if err != nil {
			return err
		}
		return waitFor(ctx, eventName)
	}
}

func waitFor(ctx context.Context, eventName string) error {
	ch := make(chan struct{})
	var once sync.Once
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	chromedp.ListenTarget(cctx, func(ev interface{}) {
		switch e := ev.(type) {
		case *page.EventLifecycleEvent:
			if e.Name == eventName {
				once.Do(func() {
					cancel()
					close(ch)
				})
			}
		}
	})
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
