// Package navigation turns the many ways an SPA can change its URL into one
// deduplicated "URL changed" notification.
package navigation

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Host is the page the watcher observes. Each install method returns a
// release function that must undo the installation completely.
type Host interface {
	// URL returns the current document URL.
	URL() string
	// WrapHistory runs after once every time pushState or replaceState completes.
	WrapHistory(after func()) (restore func(), err error)
	// OnPopState runs fn on back/forward navigation.
	OnPopState(fn func()) (remove func(), err error)
	// ObserveMutations runs fn on structural DOM changes of the document body.
	ObserveMutations(fn func()) (disconnect func(), err error)
}

var ErrAlreadyStarted = errors.New("watcher already started")

type Watcher struct {
	host     Host
	onChange func(url string)

	mu       sync.Mutex
	lastURL  string
	releases []func()
	started  bool
}

// New creates a watcher that calls onChange once per distinct URL. onChange is
// called with the watcher lock held and must not call back into the watcher.
func New(host Host, onChange func(url string)) *Watcher {
	return &Watcher{host: host, onChange: onChange}
}

// Start installs the history wrapper, the popstate listener and the mutation
// observer, then reports the current URL. If any installation fails the
// already installed ones are released before the error is returned.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return ErrAlreadyStarted
	}
	w.started = true
	w.mu.Unlock()

	installs := []struct {
		name    string
		install func(func()) (func(), error)
	}{
		{"history wrapper", w.host.WrapHistory},
		{"popstate listener", w.host.OnPopState},
		{"mutation observer", w.host.ObserveMutations},
	}
	var releases []func()
	for _, i := range installs {
		release, err := i.install(w.Check)
		if err != nil {
			slog.Error("failed to install navigation hook.", slog.String("hook", i.name),
				slog.String("err", err.Error()))
			runReleases(releases)
			w.mu.Lock()
			w.started = false
			w.mu.Unlock()
			return fmt.Errorf("install %s: %w", i.name, err)
		}
		releases = append(releases, release)
	}

	w.mu.Lock()
	w.releases = releases
	w.mu.Unlock()
	slog.Debug("navigation watcher started.")

	w.Check()
	return nil
}

// Check compares the host URL with the last seen one and notifies on change.
// All hooks funnel into Check, so redundant triggers for the same navigation
// collapse into one notification regardless of their order.
func (w *Watcher) Check() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	current := w.host.URL()
	if current == w.lastURL {
		return
	}
	slog.Debug("url changed.", slog.String("from", w.lastURL), slog.String("to", current))
	w.lastURL = current
	w.onChange(current)
}

// Stop releases every hook in reverse installation order. It is safe to call
// more than once.
func (w *Watcher) Stop() {
	w.mu.Lock()
	releases := w.releases
	w.releases = nil
	w.started = false
	w.mu.Unlock()

	runReleases(releases)
	if releases != nil {
		slog.Debug("navigation watcher stopped.")
	}
}

func runReleases(releases []func()) {
	for i := len(releases) - 1; i >= 0; i-- {
		if releases[i] != nil {
			releases[i]()
		}
	}
}
