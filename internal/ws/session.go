// Package ws implements the persistent device session: a sender loop that
// streams scheduled frames with acknowledgment-based pacing and a receiver
// loop that parses device status messages.
package ws

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/tronbyt/server/internal/database"
	"github.com/tronbyt/server/internal/delivery"
	"github.com/tronbyt/server/internal/logging"
	"github.com/tronbyt/server/internal/notify"
	"github.com/tronbyt/server/internal/scheduler"
	"github.com/tronbyt/server/internal/utils"
)

const (
	writeDeadline = 5 * time.Second
	// ackPollInterval bounds each wait slice so the sender can multiplex
	// device acks against external notifications without busy-waiting
	ackPollInterval = time.Second
	// minAckTimeout floors the ack wait for short dwell times
	minAckTimeout = 25 * time.Second
)

// Session is one logical websocket connection to a device
type Session struct {
	deviceID string
	conn     *websocket.Conn
	devices  *database.DeviceService
	sched    *scheduler.Scheduler
	notifier notify.Notifier
	registry *Registry
	clock    clockwork.Clock

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// ackCh carries displaying acks from the receiver to the sender
	ackCh chan int

	queuedSeq     atomic.Int64
	displayingSeq atomic.Int64

	lastBrightness int
	frameSeq       int
}

func NewSession(parent context.Context, conn *websocket.Conn, deviceID string,
	devices *database.DeviceService, sched *scheduler.Scheduler,
	notifier notify.Notifier, registry *Registry, clock clockwork.Clock) *Session {

	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		deviceID:       deviceID,
		conn:           conn,
		devices:        devices,
		sched:          sched,
		notifier:       notifier,
		registry:       registry,
		clock:          clock,
		ctx:            ctx,
		cancel:         cancel,
		done:           make(chan struct{}),
		ackCh:          make(chan int, 1),
		lastBrightness: -1,
	}
	// Device ack counters can legitimately start at zero
	s.displayingSeq.Store(-1)
	s.queuedSeq.Store(-1)
	return s
}

// Run drives the session to completion. It registers with the registry
// (superseding any prior session for the device), runs the sender loop on
// the calling goroutine and the receiver loop on a second one, and tears
// both down when either side ends.
func (s *Session) Run() {
	defer close(s.done)

	s.registry.Register(s)
	defer s.registry.Unregister(s)
	defer s.cancel()
	defer s.conn.Close()

	if err := s.devices.MarkWSProtocol(s.deviceID); err != nil {
		logging.WarnWithComponent(logging.ComponentWS, "Failed to mark ws protocol",
			"device", s.deviceID, "error", err)
	}

	waiter, err := s.notifier.Waiter(s.deviceID)
	if err != nil {
		logging.ErrorWithComponent(logging.ComponentWS, "Failed to create notification waiter",
			"device", s.deviceID, "error", err)
		return
	}
	defer waiter.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer s.cancel()
		s.receiveLoop()
	}()

	logging.InfoWithComponent(logging.ComponentWS, "Session started", "device", s.deviceID)
	s.sendLoop(waiter)

	s.cancel()
	s.conn.Close() // unblocks the reader
	wg.Wait()
	logging.InfoWithComponent(logging.ComponentWS, "Session ended",
		"device", s.deviceID, "frames", s.frameSeq,
		"lastQueued", s.queuedSeq.Load(), "lastDisplayed", s.displayingSeq.Load())
}

func (s *Session) localNow(device *database.Device) time.Time {
	now := s.clock.Now()
	localized, err := utils.ConvertTimeToTimezone(now, device.Timezone)
	if err != nil {
		return now.UTC()
	}
	return localized
}

// sendLoop streams frames: send one, wait for the device's displaying ack,
// an external notification, or a timeout, then compute the next.
func (s *Session) sendLoop(waiter notify.Waiter) {
	device, err := s.devices.GetDeviceByID(s.deviceID)
	if err != nil {
		logging.ErrorWithComponent(logging.ComponentWS, "Failed to load device",
			"device", s.deviceID, "error", err)
		_ = s.writeJSON(statusMsg{Status: "error", Message: "device unavailable"})
		return
	}

	frame := s.sched.ComputeNextFrame(s.ctx, device, true)

	for s.ctx.Err() == nil {
		if err := s.sendFrame(frame); err != nil {
			logging.DebugWithComponent(logging.ComponentWS, "Frame write failed",
				"device", s.deviceID, "error", err)
			return
		}

		// Re-fetch at the start of each wait so changes made elsewhere
		// (web UI brightness, app edits) are picked up next cycle
		if fresh, err := s.devices.GetDeviceByID(s.deviceID); err == nil {
			device = fresh
		}

		next := s.awaitNext(waiter, device, s.ackTimeout(device, frame))
		if next == nil {
			return
		}
		frame = next
	}
}

// ackTimeout computes how long to wait for the displaying ack. Firmware
// that acks gets twice the dwell with a floor; legacy firmware never acks,
// so the dwell itself paces the rotation.
func (s *Session) ackTimeout(device *database.Device, frame *delivery.Frame) time.Duration {
	dwell := time.Duration(frame.DwellSecs) * time.Second
	if device.ProtocolVersion > 0 {
		timeout := 2 * dwell
		if timeout < minAckTimeout {
			timeout = minAckTimeout
		}
		return timeout
	}
	return dwell
}

// awaitNext blocks until something decides the next frame. Returns nil only
// when the session is cancelled.
func (s *Session) awaitNext(waiter notify.Waiter, device *database.Device, timeout time.Duration) *delivery.Frame {
	deadline := s.clock.Now().Add(timeout)

	for {
		select {
		case <-s.ctx.Done():
			return nil
		case <-s.ackCh:
			return s.sched.ComputeNextFrame(s.ctx, device, true)
		default:
		}

		remaining := deadline.Sub(s.clock.Now())
		if remaining <= 0 {
			// No ack arrived; a possibly-dead device must not stall the
			// rotation
			return s.sched.ComputeNextFrame(s.ctx, device, true)
		}
		step := ackPollInterval
		if remaining < step {
			step = remaining
		}

		n, ok := waiter.Wait(s.ctx, step)
		if !ok {
			continue
		}

		switch {
		case n == nil:
			// Plain wake-up: device settings changed, restart the cycle
			if fresh, err := s.devices.GetDeviceByID(s.deviceID); err == nil {
				device = fresh
			}
			return s.sched.ComputeNextFrame(s.ctx, device, true)
		case n.Image != nil:
			return delivery.NewImmediateFrame(device, n.Image, s.localNow(device))
		case n.Brightness != nil:
			if err := s.writeJSON(brightnessMsg{Brightness: *n.Brightness}); err != nil {
				logging.DebugWithComponent(logging.ComponentWS, "Brightness write failed",
					"device", s.deviceID, "error", err)
				return nil
			}
			s.lastBrightness = *n.Brightness
			// Brightness does not advance the frame; keep waiting
		}
	}
}

// sendFrame transmits one display cycle: dwell metadata, brightness when it
// changed, the image as a binary frame, and for push interrupts the
// immediate flag after the bytes so the device buffers the image before
// being told to preempt.
func (s *Session) sendFrame(frame *delivery.Frame) error {
	s.frameSeq++

	if err := s.writeJSON(dwellMsg{DwellSecs: frame.DwellSecs}); err != nil {
		return err
	}
	if frame.Brightness != s.lastBrightness {
		if err := s.writeJSON(brightnessMsg{Brightness: frame.Brightness}); err != nil {
			return err
		}
		s.lastBrightness = frame.Brightness
	}

	s.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	if err := s.conn.WriteMessage(websocket.BinaryMessage, frame.Bytes); err != nil {
		return err
	}

	if frame.Immediate {
		if err := s.writeJSON(immediateMsg{Immediate: true}); err != nil {
			return err
		}
	}

	logging.DebugWithComponent(logging.ComponentWS, "Frame sent",
		"device", s.deviceID, "frame", s.frameSeq, "iname", frame.Iname,
		"bytes", len(frame.Bytes), "dwell", frame.DwellSecs)
	return nil
}

func (s *Session) writeJSON(v interface{}) error {
	s.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return s.conn.WriteJSON(v)
}

// receiveLoop parses device messages until the socket closes. Malformed
// frames are logged and dropped, never fatal to the session.
func (s *Session) receiveLoop() {
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			logging.DebugWithComponent(logging.ComponentWS, "Device disconnected",
				"device", s.deviceID, "error", err)
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		if err := s.devices.TouchLastSeen(s.deviceID); err != nil {
			logging.DebugWithComponent(logging.ComponentWS, "Failed to update last seen",
				"device", s.deviceID, "error", err)
		}

		msg, err := ParseInbound(data)
		if err != nil {
			logging.WarnWithComponent(logging.ComponentWS, "Dropping malformed frame",
				"device", s.deviceID, "error", err)
			continue
		}

		switch m := msg.(type) {
		case QueuedMsg:
			s.queuedSeq.Store(int64(m.Seq))
			s.stampProtocol()
		case DisplayingMsg:
			s.stampProtocol()
			// Retransmitted acks carry the counter we already handled and
			// must not advance the rotation again
			if s.displayingSeq.Swap(int64(m.Seq)) == int64(m.Seq) {
				logging.DebugWithComponent(logging.ComponentWS, "Duplicate displaying ack",
					"device", s.deviceID, "seq", m.Seq)
				continue
			}
			select {
			case s.ackCh <- m.Seq:
			default:
			}
		case ClientInfoMsg:
			if err := s.devices.UpdateClientInfo(s.deviceID, m.Info.FirmwareVersion,
				m.Info.FirmwareType, m.Info.MacAddress, m.Info.ProtocolVersion); err != nil {
				logging.WarnWithComponent(logging.ComponentWS, "Failed to store client info",
					"device", s.deviceID, "error", err)
			}
		}
	}
}

// stampProtocol records ack-capable firmware the first time a device sends
// a queued or displaying message
func (s *Session) stampProtocol() {
	if err := s.devices.StampProtocolVersion(s.deviceID, 1); err != nil {
		logging.DebugWithComponent(logging.ComponentWS, "Failed to stamp protocol version",
			"device", s.deviceID, "error", err)
	}
}
