package docstore

import (
	"context"
	"sync"
)

// LocalFeed is an in-process ChangeFeed. Notifications are coalesced: a
// listener that hasn't drained its channel gets at most one pending signal.
type LocalFeed struct {
	mu        sync.Mutex
	nextID    int
	listeners map[string]map[int]chan struct{}
}

// NewLocalFeed creates an in-process change feed.
func NewLocalFeed() *LocalFeed {
	return &LocalFeed{listeners: make(map[string]map[int]chan struct{})}
}

// Publish signals every listener of collection.
func (f *LocalFeed) Publish(_ context.Context, collection string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.listeners[collection] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return nil
}

// Listen registers a listener for collection until stop is called.
func (f *LocalFeed) Listen(_ context.Context, collection string) (<-chan struct{}, func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	ch := make(chan struct{}, 1)
	if f.listeners[collection] == nil {
		f.listeners[collection] = make(map[int]chan struct{})
	}
	f.listeners[collection][id] = ch
	var once sync.Once
	stop := func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.listeners[collection], id)
			if len(f.listeners[collection]) == 0 {
				delete(f.listeners, collection)
			}
		})
	}
	return ch, stop, nil
}
