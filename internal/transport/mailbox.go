package transport

import (
	"context"
	"sync"
	"time"

	"offpay/internal/domain"
)

// Mailbox queues envelopes per recipient in arrival order.
type Mailbox struct {
	mu    sync.Mutex
	boxes map[domain.DeviceID][]domain.Envelope
	now   func() time.Time
}

// NewMailbox returns an empty Mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{boxes: make(map[domain.DeviceID][]domain.Envelope), now: time.Now}
}

// Push appends env to env.To's queue, stamping a missing timestamp.
func (m *Mailbox) Push(env domain.Envelope) {
	if env.Timestamp == 0 {
		env.Timestamp = m.now().UnixMilli()
	}
	m.mu.Lock()
	m.boxes[env.To] = append(m.boxes[env.To], env)
	m.mu.Unlock()
}

// Peek returns up to limit queued envelopes without removing them; limit
// <= 0 returns all.
func (m *Mailbox) Peek(device domain.DeviceID, limit int) []domain.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.boxes[device]
	if limit > 0 && limit < len(q) {
		q = q[:limit]
	}
	return append([]domain.Envelope(nil), q...)
}

// Drop removes the first count envelopes queued for device.
func (m *Mailbox) Drop(device domain.DeviceID, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.boxes[device]
	if count >= len(q) {
		delete(m.boxes, device)
		return
	}
	if count > 0 {
		m.boxes[device] = append([]domain.Envelope(nil), q[count:]...)
	}
}

// Len returns the number of envelopes queued for device.
func (m *Mailbox) Len(device domain.DeviceID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.boxes[device])
}

// Memory is an in-process Transport and Inbox backed by a Mailbox.
type Memory struct {
	box *Mailbox
}

// NewMemory returns a Memory over box; a nil box gets a fresh one.
func NewMemory(box *Mailbox) *Memory {
	if box == nil {
		box = NewMailbox()
	}
	return &Memory{box: box}
}

// Mailbox exposes the shared mailbox.
func (m *Memory) Mailbox() *Mailbox { return m.box }

func (m *Memory) Send(ctx context.Context, env domain.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.box.Push(env)
	return nil
}

func (m *Memory) Fetch(ctx context.Context, device domain.DeviceID, limit int) ([]domain.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.box.Peek(device, limit), nil
}

func (m *Memory) Ack(ctx context.Context, device domain.DeviceID, count int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.box.Drop(device, count)
	return nil
}

var (
	_ domain.Transport = (*Memory)(nil)
	_ domain.Inbox     = (*Memory)(nil)
)
