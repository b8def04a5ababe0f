// Package netmon fans the external online/offline signal out to subscribers.
// The raw signal arrives as edge-triggered events from outside the process
// (OS hooks, a supervising shell, or the admin API); this package owns the
// current-state view and the subscriber registry.
package netmon

import (
	"sync"

	"go.uber.org/zap"

	"propsync-service/internal/logger"
)

type Event int

const (
	EventOnline Event = iota
	EventOffline
)

func (e Event) String() string {
	if e == EventOnline {
		return "online"
	}
	return "offline"
}

type Notifier struct {
	mu     sync.Mutex
	online bool
	subs   map[chan Event]struct{}
}

// NewNotifier starts in the online state: the first probe or sync pass
// discovers the truth, and assuming offline would stall a healthy process.
func NewNotifier() *Notifier {
	return &Notifier{
		online: true,
		subs:   make(map[chan Event]struct{}),
	}
}

// Subscribe registers a new listener. Events are delivered best-effort into
// a buffered channel; a subscriber that falls behind misses intermediate
// edges and should re-check IsOnline on wake-up.
func (n *Notifier) Subscribe() chan Event {
	ch := make(chan Event, 8)
	n.mu.Lock()
	n.subs[ch] = struct{}{}
	n.mu.Unlock()
	return ch
}

func (n *Notifier) Unsubscribe(ch chan Event) {
	n.mu.Lock()
	delete(n.subs, ch)
	n.mu.Unlock()
}

func (n *Notifier) IsOnline() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.online
}

// SetOnline records the new state and, on an actual edge, broadcasts it.
func (n *Notifier) SetOnline(online bool) {
	n.mu.Lock()
	if n.online == online {
		n.mu.Unlock()
		return
	}
	n.online = online

	ev := EventOffline
	if online {
		ev = EventOnline
	}
	for ch := range n.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	n.mu.Unlock()

	logger.Log.Info("Network state changed", zap.String("state", ev.String()))
}
