package mcpservice

import (
	"context"
	"sync"
)

// ChangeNotifier provides a simple in-process pub-sub for change events. The
// capability containers use it to signal that their registered set changed so
// that listChanged notifications can be sent to clients.
type ChangeNotifier struct {
	subscribersMu sync.RWMutex
	subscribers   []chan struct{}
	closed        bool
}

// Subscription is a registered interest in change events. Signals arrive on
// C; Close releases the registration so the notifier stops fanning out to it.
type Subscription struct {
	C <-chan struct{}

	cn   *ChangeNotifier
	ch   chan struct{}
	once sync.Once
}

// Close removes the subscription from its notifier. Safe to call more than
// once and after the notifier itself has been closed.
func (s *Subscription) Close() {
	s.once.Do(func() { s.cn.remove(s.ch) })
}

// Notify signals all registered listeners that the underlying set changed.
// Fan-out is best-effort: sends are non-blocking so a slow consumer drops
// signals instead of stalling the producer. The error return exists only for
// future expansion; callers may ignore it.
func (cn *ChangeNotifier) Notify(ctx context.Context) error {
	cn.subscribersMu.RLock()
	defer cn.subscribersMu.RUnlock()

	if cn.closed {
		return nil
	}
	for _, ch := range cn.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return nil
}

// Close ends notification delivery. Subscriber channels are closed so
// forwarding goroutines unblock and exit.
func (cn *ChangeNotifier) Close() {
	cn.subscribersMu.Lock()
	if cn.closed {
		cn.subscribersMu.Unlock()
		return
	}
	cn.closed = true
	subs := cn.subscribers
	cn.subscribers = nil
	cn.subscribersMu.Unlock()

	for _, ch := range subs {
		close(ch)
	}
}

// Subscribe registers a listener. The channel is buffered with capacity 1;
// coalesced signals are indistinguishable from single ones, which is all
// listChanged needs. Callers must Close the subscription when done or the
// notifier keeps fanning out to it.
func (cn *ChangeNotifier) Subscribe() *Subscription {
	cn.subscribersMu.Lock()
	defer cn.subscribersMu.Unlock()

	ch := make(chan struct{}, 1)
	if cn.closed {
		close(ch)
		return &Subscription{C: ch, cn: cn, ch: ch}
	}

	cn.subscribers = append(cn.subscribers, ch)
	return &Subscription{C: ch, cn: cn, ch: ch}
}

// SubscriberCount returns the number of live subscriptions.
func (cn *ChangeNotifier) SubscriberCount() int {
	cn.subscribersMu.RLock()
	defer cn.subscribersMu.RUnlock()
	return len(cn.subscribers)
}

func (cn *ChangeNotifier) remove(ch chan struct{}) {
	cn.subscribersMu.Lock()
	defer cn.subscribersMu.Unlock()
	for i, c := range cn.subscribers {
		if c == ch {
			cn.subscribers = append(cn.subscribers[:i], cn.subscribers[i+1:]...)
			return
		}
	}
}
