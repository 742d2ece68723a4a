package test

import (
	"context"
	"sync"
	"time"

	"github.com/brocaar/chirpstack-end-device/internal/radio"
)

// TxFrame holds a transmitted frame.
type TxFrame struct {
	Config  radio.TxConfig
	Payload []byte
}

// RxFrame holds a frame to be received. When Frequency is 0, it is
// received on any frequency.
type RxFrame struct {
	Frequency uint32
	Payload   []byte
	Quality   radio.Quality
}

// Radio is a test radio. Transmitted frames are sent to TxFrameChan,
// receive configurations to RxConfigChan. Frames to receive are queued
// using Receive and are delivered by ReceiveUntil when they match the
// configured frequency.
type Radio struct {
	TxFrameChan  chan TxFrame
	RxConfigChan chan radio.RxConfig

	// TxError is returned by Transmit when set.
	TxError error

	mu       sync.Mutex
	rxConfig *radio.RxConfig
	rxFrames []RxFrame
	notify   chan struct{}
	cancel   chan struct{}
	lowPower int
}

// NewRadio returns a new Radio.
func NewRadio() *Radio {
	return &Radio{
		TxFrameChan:  make(chan TxFrame, 100),
		RxConfigChan: make(chan radio.RxConfig, 100),
		notify:       make(chan struct{}, 1),
		cancel:       make(chan struct{}),
	}
}

// Receive queues the given frame.
func (r *Radio) Receive(f RxFrame) {
	r.mu.Lock()
	r.rxFrames = append(r.rxFrames, f)
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Pending returns the number of queued frames that have not been received.
func (r *Radio) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rxFrames)
}

// LowPowerCount returns the number of EnterLowPower calls.
func (r *Radio) LowPowerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lowPower
}

// Transmit implements radio.Radio.
func (r *Radio) Transmit(ctx context.Context, c radio.TxConfig, payload []byte) (int, error) {
	if r.TxError != nil {
		return 0, r.TxError
	}

	r.cancelReceive()
	r.TxFrameChan <- TxFrame{Config: c, Payload: payload}
	return len(payload), nil
}

// ConfigureReceive implements radio.Radio.
func (r *Radio) ConfigureReceive(c radio.RxConfig) error {
	r.mu.Lock()
	r.rxConfig = &c
	r.cancel = make(chan struct{})
	r.mu.Unlock()

	r.RxConfigChan <- c
	return nil
}

// ReceiveUntil implements radio.Radio. A matching queued frame is always
// delivered, also when the context is already done.
func (r *Radio) ReceiveUntil(ctx context.Context, target radio.RxTarget) (radio.RxResult, error) {
	for {
		r.mu.Lock()
		if r.rxConfig == nil {
			r.mu.Unlock()
			return radio.RxResult{}, radio.ErrNotConfigured
		}

		for i, f := range r.rxFrames {
			if f.Frequency != 0 && f.Frequency != r.rxConfig.Frequency {
				continue
			}

			r.rxFrames = append(r.rxFrames[:i], r.rxFrames[i+1:]...)
			if !r.rxConfig.Continuous {
				r.rxConfig = nil
			}
			r.mu.Unlock()

			return radio.RxResult{
				Payload: f.Payload,
				Quality: f.Quality,
			}, nil
		}
		cancel := r.cancel
		r.mu.Unlock()

		select {
		case <-r.notify:
		case <-cancel:
			return radio.RxResult{}, radio.ErrCancelled
		case <-ctx.Done():
			return radio.RxResult{}, ctx.Err()
		}
	}
}

// EnterLowPower implements radio.Radio.
func (r *Radio) EnterLowPower() error {
	r.cancelReceive()

	r.mu.Lock()
	r.lowPower++
	r.mu.Unlock()
	return nil
}

// Cancel implements radio.Radio.
func (r *Radio) Cancel() error {
	r.cancelReceive()
	return nil
}

func (r *Radio) cancelReceive() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rxConfig == nil {
		return
	}
	r.rxConfig = nil
	close(r.cancel)
}

// Timer is a test timer using a virtual clock. Suspending returns
// immediately and advances the clock.
type Timer struct {
	mu  sync.Mutex
	now time.Duration
}

// NewTimer returns a new Timer.
func NewTimer() *Timer {
	return &Timer{}
}

// Reset implements radio.Timer.
func (t *Timer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = 0
}

// Elapsed implements radio.Timer.
func (t *Timer) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.now
}

// SuspendUntil implements radio.Timer.
func (t *Timer) SuspendUntil(ctx context.Context, deadline time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if deadline > t.now {
		t.now = deadline
	}
	return nil
}

// SuspendFor implements radio.Timer.
func (t *Timer) SuspendFor(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if d > 0 {
		t.now += d
	}
	return nil
}
