package session

import (
	"sync"

	"roomchat/internal/models"
)

// Feed turns the OnEvent callback into a channel. Publish never blocks: events
// are buffered without bound until the subscriber reads them.
type Feed struct {
	mu       sync.Mutex
	buf      []models.ChatEvent
	finished bool

	notify chan struct{}
	done   chan struct{}
	out    chan models.ChatEvent
	once   sync.Once
}

func NewFeed() *Feed {
	f := &Feed{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		out:    make(chan models.ChatEvent),
	}
	go f.pump()
	return f
}

// Publish queues ev for the subscriber. Events published after a terminal
// event or after Close are discarded.
func (f *Feed) Publish(ev models.ChatEvent) {
	f.mu.Lock()
	if f.finished {
		f.mu.Unlock()
		return
	}
	f.buf = append(f.buf, ev)
	if ev.Terminal() {
		f.finished = true
	}
	f.mu.Unlock()

	select {
	case f.notify <- struct{}{}:
	default:
	}
}

// Events returns the live event channel. It is closed once the terminal
// event has been received or the feed is closed.
func (f *Feed) Events() <-chan models.ChatEvent {
	return f.out
}

// Close stops the feed and drops events not yet received.
func (f *Feed) Close() {
	f.once.Do(func() {
		f.mu.Lock()
		f.finished = true
		f.mu.Unlock()
		close(f.done)
	})
}

func (f *Feed) pump() {
	defer close(f.out)
	for {
		f.mu.Lock()
		batch := f.buf
		f.buf = nil
		f.mu.Unlock()

		for _, ev := range batch {
			select {
			case f.out <- ev:
			case <-f.done:
				return
			}
			if ev.Terminal() {
				return
			}
		}

		select {
		case <-f.notify:
		case <-f.done:
			return
		}
	}
}
