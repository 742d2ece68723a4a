// Package radio defines the radio and timer capabilities consumed by the
// MAC layer.
package radio

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/brocaar/chirpstack-end-device/internal/band"
)

// errors
var (
	ErrBusy          = errors.New("radio: busy")
	ErrCancelled     = errors.New("radio: cancelled")
	ErrNotConfigured = errors.New("radio: receive not configured")
)

// TxConfig holds the transmit parameters.
type TxConfig struct {
	Frequency uint32
	DR        int
	DataRate  band.DataRate

	// Power holds the EIRP in dBm.
	Power int
}

// RxConfig holds the receive parameters.
type RxConfig struct {
	Frequency uint32
	DR        int
	DataRate  band.DataRate

	// Continuous is set for Class-C listening. Otherwise the radio
	// receives a single frame.
	Continuous bool
}

// RxTarget defines the state until which ReceiveUntil blocks.
type RxTarget int

// Receive targets.
const (
	// RxTargetPreamble returns as soon as a preamble has been detected.
	RxTargetPreamble RxTarget = iota
	// RxTargetPacket returns when a full packet has been received.
	RxTargetPacket
)

// Quality holds the link quality of a received packet.
type Quality struct {
	RSSI int
	SNR  float64
}

// RxResult holds the result of ReceiveUntil.
type RxResult struct {
	// Preamble is set when only the preamble was detected.
	Preamble bool

	Payload []byte
	Quality Quality
}

// Radio defines the radio transport capability. A radio supports a single
// outstanding transmit or receive operation at a time.
type Radio interface {
	// Transmit transmits the given payload and blocks until the
	// transmission has completed. It returns ErrBusy when an other
	// transmission is in progress.
	Transmit(ctx context.Context, c TxConfig, payload []byte) (int, error)

	// ConfigureReceive configures the receiver.
	ConfigureReceive(c RxConfig) error

	// ReceiveUntil blocks until the given target state has been reached,
	// the context is done or the receive is cancelled (ErrCancelled).
	ReceiveUntil(ctx context.Context, target RxTarget) (RxResult, error)

	// EnterLowPower puts the radio in low-power mode. Any pending receive
	// is cancelled.
	EnterLowPower() error

	// Cancel cancels the pending receive. It is a no-op when the radio is
	// idle.
	Cancel() error
}

// Timer defines the timer capability. Deadlines are expressed as duration
// since the last Reset.
type Timer interface {
	// Reset resets the timer reference.
	Reset()

	// Elapsed returns the duration since the last Reset.
	Elapsed() time.Duration

	// SuspendUntil blocks until the given deadline (since Reset) or until
	// the context is done.
	SuspendUntil(ctx context.Context, deadline time.Duration) error

	// SuspendFor blocks for the given duration or until the context is
	// done.
	SuspendFor(ctx context.Context, d time.Duration) error
}
