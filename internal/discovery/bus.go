// Package discovery delivers content ids that only become known after a page
// has rendered, such as the numeric Udemy course id.
package discovery

import (
	"sync"

	"github.com/IliaW/content-overlay/internal/model"
)

// Discovery is an id found on PageURL for an identity on Platform.
type Discovery struct {
	Platform model.Platform
	PageURL  string
	ID       string
}

// Bus is a publish/subscribe channel keyed by platform. The last value per
// platform is retained and replayed to late subscribers, so a consumer that
// subscribes after the publisher found the id still receives it.
type Bus struct {
	mu     sync.Mutex
	subs   map[model.Platform]map[int]func(Discovery)
	last   map[model.Platform]Discovery
	nextID int
}

func NewBus() *Bus {
	return &Bus{
		subs: make(map[model.Platform]map[int]func(Discovery)),
		last: make(map[model.Platform]Discovery),
	}
}

// Subscribe registers fn for discoveries on platform and returns a function
// that removes it. Subscribers decide for themselves whether a discovery still
// applies to what they are showing.
func (b *Bus) Subscribe(platform model.Platform, fn func(Discovery)) (unsubscribe func()) {
	b.mu.Lock()
	if b.subs[platform] == nil {
		b.subs[platform] = make(map[int]func(Discovery))
	}
	id := b.nextID
	b.nextID++
	b.subs[platform][id] = fn
	last, replay := b.last[platform]
	b.mu.Unlock()

	if replay {
		fn(last)
	}
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[platform], id)
	}
}

func (b *Bus) Publish(d Discovery) {
	b.mu.Lock()
	b.last[d.Platform] = d
	subs := make([]func(Discovery), 0, len(b.subs[d.Platform]))
	for _, fn := range b.subs[d.Platform] {
		subs = append(subs, fn)
	}
	b.mu.Unlock()

	for _, fn := range subs {
		fn(d)
	}
}
