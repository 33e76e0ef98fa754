package activity

import "sync"

// Observer receives activity events. Callbacks run on the prediction
// goroutine and should return quickly.
type Observer interface {
	OnActivityChanged(ChangeEvent)
	OnActivityUpdate(UpdateEvent)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Changed func(ChangeEvent)
	Updated func(UpdateEvent)
}

func (f ObserverFuncs) OnActivityChanged(e ChangeEvent) {
	if f.Changed != nil {
		f.Changed(e)
	}
}

func (f ObserverFuncs) OnActivityUpdate(e UpdateEvent) {
	if f.Updated != nil {
		f.Updated(e)
	}
}

// Bus fans events out to every subscribed observer, in subscription order.
type Bus struct {
	mu        sync.RWMutex
	nextID    uint64
	observers []subscription
}

type subscription struct {
	id uint64
	o  Observer
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers o and returns a function that removes it again.
// Calling the returned function more than once is harmless.
func (b *Bus) Subscribe(o Observer) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.observers = append(b.observers, subscription{id: id, o: o})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.observers {
			if s.id == id {
				b.observers = append(b.observers[:i:i], b.observers[i+1:]...)
				return
			}
		}
	}
}

// Len returns the number of subscribed observers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.observers)
}

// PublishChange delivers e to every observer.
func (b *Bus) PublishChange(e ChangeEvent) {
	for _, s := range b.snapshot() {
		s.o.OnActivityChanged(e)
	}
}

// PublishUpdate delivers e to every observer.
func (b *Bus) PublishUpdate(e UpdateEvent) {
	for _, s := range b.snapshot() {
		s.o.OnActivityUpdate(e)
	}
}

// snapshot copies the observer list so callbacks may (un)subscribe.
func (b *Bus) snapshot() []subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]subscription(nil), b.observers...)
}
