package navigation

import "sync"

// MemoryHost is an in-process Host with a history stack. It replays browsing
// sessions for `overlay extract --follow`.
type MemoryHost struct {
	mu        sync.Mutex
	entries   []string
	index     int
	history   map[int]func()
	popState  map[int]func()
	mutations map[int]func()
	nextID    int
}

func NewMemoryHost(initialURL string) *MemoryHost {
	return &MemoryHost{
		entries:   []string{initialURL},
		history:   make(map[int]func()),
		popState:  make(map[int]func()),
		mutations: make(map[int]func()),
	}
}

func (h *MemoryHost) URL() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.entries[h.index]
}

func (h *MemoryHost) WrapHistory(after func()) (func(), error) {
	return h.add(h.history, after), nil
}

func (h *MemoryHost) OnPopState(fn func()) (func(), error) {
	return h.add(h.popState, fn), nil
}

func (h *MemoryHost) ObserveMutations(fn func()) (func(), error) {
	return h.add(h.mutations, fn), nil
}

// PushState appends a history entry and runs the history hooks.
func (h *MemoryHost) PushState(url string) {
	h.mu.Lock()
	h.entries = append(h.entries[:h.index+1], url)
	h.index++
	hooks := snapshot(h.history)
	h.mu.Unlock()
	fire(hooks)
}

// ReplaceState overwrites the current entry and runs the history hooks.
func (h *MemoryHost) ReplaceState(url string) {
	h.mu.Lock()
	h.entries[h.index] = url
	hooks := snapshot(h.history)
	h.mu.Unlock()
	fire(hooks)
}

// Back moves one entry back and fires popstate. It is a no-op at the start of
// the history.
func (h *MemoryHost) Back() {
	h.mu.Lock()
	if h.index == 0 {
		h.mu.Unlock()
		return
	}
	h.index--
	hooks := snapshot(h.popState)
	h.mu.Unlock()
	fire(hooks)
}

// Mutate simulates a DOM change, optionally together with a URL change made
// without the history API.
func (h *MemoryHost) Mutate(url string) {
	h.mu.Lock()
	if url != "" {
		h.entries[h.index] = url
	}
	hooks := snapshot(h.mutations)
	h.mu.Unlock()
	fire(hooks)
}

// Hooks returns how many hooks are currently installed.
func (h *MemoryHost) Hooks() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.history) + len(h.popState) + len(h.mutations)
}

func (h *MemoryHost) add(set map[int]func(), fn func()) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	set[id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(set, id)
	}
}

func snapshot(set map[int]func()) []func() {
	out := make([]func(), 0, len(set))
	for _, fn := range set {
		out = append(out, fn)
	}
	return out
}

func fire(hooks []func()) {
	for _, fn := range hooks {
		fn()
	}
}
