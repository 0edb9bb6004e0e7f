package notify

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// MemoryNotifier is the in-process backend. Waiters are tracked per device
// id and torn down when the last one for a device closes.
type MemoryNotifier struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	devices map[string]map[*memoryWaiter]struct{}
}

func NewMemoryNotifier(clock clockwork.Clock) *MemoryNotifier {
	return &MemoryNotifier{
		clock:   clock,
		devices: make(map[string]map[*memoryWaiter]struct{}),
	}
}

type memoryWaiter struct {
	parent   *MemoryNotifier
	deviceID string
	ch       chan *Notification
	once     sync.Once
}

// Waiter registers a consumer for a device
func (m *MemoryNotifier) Waiter(deviceID string) (Waiter, error) {
	w := &memoryWaiter{
		parent:   m,
		deviceID: deviceID,
		ch:       make(chan *Notification, 4),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.devices[deviceID]
	if !ok {
		set = make(map[*memoryWaiter]struct{})
		m.devices[deviceID] = set
	}
	set[w] = struct{}{}
	return w, nil
}

// Notify fans the notification out to the device's waiters. Delivery is
// non-blocking: a waiter whose buffer is full misses the notification, the
// next wait cycle re-fetches device state anyway.
func (m *MemoryNotifier) Notify(_ context.Context, deviceID string, n *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for w := range m.devices[deviceID] {
		select {
		case w.ch <- n:
		default:
		}
	}
	return nil
}

func (m *MemoryNotifier) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, set := range m.devices {
		for w := range set {
			w.closeChan()
		}
		delete(m.devices, id)
	}
	return nil
}

func (m *MemoryNotifier) remove(w *memoryWaiter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.devices[w.deviceID]
	if !ok {
		return
	}
	delete(set, w)
	if len(set) == 0 {
		delete(m.devices, w.deviceID)
	}
}

func (w *memoryWaiter) Wait(ctx context.Context, timeout time.Duration) (*Notification, bool) {
	timer := w.parent.clock.NewTimer(timeout)
	defer timer.Stop()

	select {
	case n, ok := <-w.ch:
		if !ok {
			return nil, false
		}
		return n, true
	case <-timer.Chan():
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}

func (w *memoryWaiter) Close() {
	w.parent.remove(w)
	w.closeChan()
}

func (w *memoryWaiter) closeChan() {
	w.once.Do(func() { close(w.ch) })
}
