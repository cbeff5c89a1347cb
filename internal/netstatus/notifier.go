package netstatus

import (
	"sync"

	"go.uber.org/zap"
)

// notifier holds the online flag and the subscriber table shared by Checker
// and Manual.
type notifier struct {
	mu      sync.Mutex
	online  bool
	subs    map[int]func(bool)
	nextSub int
	log     *zap.Logger
}

func newNotifier(online bool, log *zap.Logger) *notifier {
	return &notifier{online: online, subs: make(map[int]func(bool)), log: log}
}

func (n *notifier) Online() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.online
}

func (n *notifier) Subscribe(fn func(online bool)) func() {
	n.mu.Lock()
	id := n.nextSub
	n.nextSub++
	n.subs[id] = fn
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, id)
			n.mu.Unlock()
		})
	}
}

// set stores online and reports whether it changed. Subscribers are called
// after the lock is released.
func (n *notifier) set(online bool) bool {
	n.mu.Lock()
	if n.online == online {
		n.mu.Unlock()
		return false
	}
	n.online = online
	fns := make([]func(bool), 0, len(n.subs))
	for _, fn := range n.subs {
		fns = append(fns, fn)
	}
	n.mu.Unlock()

	n.log.Info("connectivity changed", zap.Bool("online", online))
	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					n.log.Error("network subscriber panicked", zap.Any("panic", r))
				}
			}()
			fn(online)
		}()
	}
	return true
}
