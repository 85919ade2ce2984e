package docstore

import (
	"sync"
	"time"

	"github.com/driftchat/drift/internal/bus"
)

const changeKind = "doc.changed"

// Notifier fans document changes out to watchers through the event bus.
// Backends embed one and call Notify after every committed write.
type Notifier struct {
	bus *bus.Bus
}

// NewNotifier creates a notifier publishing on b.
func NewNotifier(b *bus.Bus) *Notifier {
	return &Notifier{bus: b}
}

// Notify publishes a change event for the document at path.
func (n *Notifier) Notify(path string) {
	n.bus.Publish(bus.Event{
		Kind:      changeKind,
		Path:      path,
		Timestamp: time.Now(),
	})
}

// Watch subscribes to changes within scope. Events outside the scope are
// filtered before delivery; updates within one subscription arrive in
// publish order. The teardown stops delivery immediately.
func (n *Notifier) Watch(scope string, bufSize int) (<-chan Change, func()) {
	events, unsub := n.bus.Subscribe(changeKind, bufSize)
	out := make(chan Change, bufSize)
	done := make(chan struct{})

	go func() {
		defer close(out)
		for {
			select {
			case evt, ok := <-events:
				if !ok {
					return
				}
				if !InScope(scope, evt.Path) {
					continue
				}
				select {
				case out <- Change{Path: evt.Path}:
				default:
					// Drop when the watcher is not keeping up; the next
					// change triggers a full re-read anyway.
				}
			case <-done:
				return
			}
		}
	}()

	var stop sync.Once
	return out, func() {
		stop.Do(func() {
			unsub()
			close(done)
		})
	}
}
