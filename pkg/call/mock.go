package call

import (
	"context"
	"sync"

	"github.com/teslashibe/go-mevy/pkg/audioio"
)

// MockDialer is a Dialer for testing. It hands out a single MockTransport.
type MockDialer struct {
	// DialFunc overrides Dial when set.
	DialFunc func(ctx context.Context, setup Setup) (Transport, error)

	transport *MockTransport

	mu     sync.Mutex
	setups []Setup
}

// NewMockDialer creates a dialer that returns t.
func NewMockDialer(t *MockTransport) *MockDialer {
	return &MockDialer{transport: t}
}

// Dial implements Dialer.
func (d *MockDialer) Dial(ctx context.Context, setup Setup) (Transport, error) {
	d.mu.Lock()
	d.setups = append(d.setups, setup)
	d.mu.Unlock()

	if d.DialFunc != nil {
		return d.DialFunc(ctx, setup)
	}
	return d.transport, nil
}

// Name implements Dialer.
func (d *MockDialer) Name() string {
	return "mock"
}

// Setups returns every setup passed to Dial.
func (d *MockDialer) Setups() []Setup {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Setup(nil), d.setups...)
}

// Dials returns how many times Dial was called.
func (d *MockDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.setups)
}

var _ Dialer = (*MockDialer)(nil)

type mockItem struct {
	msg Inbound
	err error
}

// MockTransport is a Transport for testing. Tests feed it service messages
// with Deliver and inspect what the session sent.
type MockTransport struct {
	// SendAudioFunc overrides SendAudio when set. Frames are recorded only
	// when it returns nil.
	SendAudioFunc func(ctx context.Context, frame audioio.Frame) error

	inbox     chan mockItem
	closed    chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	sent     []audioio.Frame
	attempts int
	closes   int
}

// NewMockTransport creates an open mock transport.
func NewMockTransport() *MockTransport {
	return &MockTransport{
		inbox:  make(chan mockItem, 64),
		closed: make(chan struct{}),
	}
}

// Deliver queues messages for Receive. It returns false once the
// transport is closed.
func (t *MockTransport) Deliver(msgs ...Inbound) bool {
	for _, msg := range msgs {
		select {
		case t.inbox <- mockItem{msg: msg}:
		case <-t.closed:
			return false
		}
	}
	return true
}

// Open delivers InboundOpen.
func (t *MockTransport) Open() bool {
	return t.Deliver(Inbound{Kind: InboundOpen})
}

// Fail makes the next Receive return err.
func (t *MockTransport) Fail(err error) bool {
	select {
	case t.inbox <- mockItem{err: err}:
		return true
	case <-t.closed:
		return false
	}
}

// SendAudio implements Transport.
func (t *MockTransport) SendAudio(ctx context.Context, frame audioio.Frame) error {
	select {
	case <-t.closed:
		return ErrNotConnected
	default:
	}

	t.mu.Lock()
	t.attempts++
	t.mu.Unlock()

	if t.SendAudioFunc != nil {
		if err := t.SendAudioFunc(ctx, frame); err != nil {
			return err
		}
	}

	t.mu.Lock()
	t.sent = append(t.sent, frame)
	t.mu.Unlock()
	return nil
}

// Receive implements Transport.
func (t *MockTransport) Receive(ctx context.Context) (Inbound, error) {
	select {
	case <-ctx.Done():
		return Inbound{}, ctx.Err()
	case <-t.closed:
		return Inbound{}, ErrNotConnected
	case item := <-t.inbox:
		return item.msg, item.err
	}
}

// Close implements Transport.
func (t *MockTransport) Close() error {
	t.mu.Lock()
	t.closes++
	t.mu.Unlock()

	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}

// Sent returns the frames sent successfully, in order.
func (t *MockTransport) Sent() []audioio.Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]audioio.Frame(nil), t.sent...)
}

// SendAttempts returns how many times SendAudio was called.
func (t *MockTransport) SendAttempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts
}

// Closes returns how many times Close was called.
func (t *MockTransport) Closes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closes
}

var _ Transport = (*MockTransport)(nil)
