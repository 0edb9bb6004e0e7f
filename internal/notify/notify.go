// Package notify wakes a device's websocket sender loop from anywhere in
// the deployment. An HTTP handler that accepts a pushed image or brightness
// change publishes a notification; the session holding the device's socket
// waits on it. Two backends exist: an in-process implementation for
// single-host deployments and a Redis pub/sub implementation for
// multi-host ones.
package notify

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// Notification is the payload delivered to a waiting session. Exactly one
// of the fields is set; a zero Notification is a plain wake-up.
type Notification struct {
	// Image carries externally supplied webp bytes for immediate display
	Image []byte
	// Brightness carries a brightness update in percent
	Brightness *int
}

// Waiter blocks a single consumer on notifications for one device
type Waiter interface {
	// Wait blocks until a notification arrives, the timeout elapses, or the
	// context is cancelled. ok is false on timeout or cancellation.
	Wait(ctx context.Context, timeout time.Duration) (n *Notification, ok bool)
	// Close releases the waiter's resources
	Close()
}

// Notifier hands out waiters and delivers notifications
type Notifier interface {
	// Waiter registers a consumer for a device's notifications
	Waiter(deviceID string) (Waiter, error)
	// Notify delivers a notification to the device's waiters, if any. A nil
	// notification is a plain wake-up.
	Notify(ctx context.Context, deviceID string, n *Notification) error
	// Close shuts the backend down
	Close() error
}

// Wire encoding shared by the backends that cross a process boundary.
// Messages are "wake", "brightness:<n>", or "image:" followed by raw bytes.
const (
	wireWake             = "wake"
	wireBrightnessPrefix = "brightness:"
	wireImagePrefix      = "image:"
)

func encodeNotification(n *Notification) string {
	switch {
	case n == nil:
		return wireWake
	case n.Brightness != nil:
		return wireBrightnessPrefix + strconv.Itoa(*n.Brightness)
	case n.Image != nil:
		return wireImagePrefix + string(n.Image)
	default:
		return wireWake
	}
}

func decodeNotification(payload string) *Notification {
	switch {
	case strings.HasPrefix(payload, wireBrightnessPrefix):
		v, err := strconv.Atoi(payload[len(wireBrightnessPrefix):])
		if err != nil {
			return nil
		}
		return &Notification{Brightness: &v}
	case strings.HasPrefix(payload, wireImagePrefix):
		return &Notification{Image: []byte(payload[len(wireImagePrefix):])}
	default:
		return nil
	}
}
