package audio

import "errors"

// ErrDeviceUnavailable is returned when the configured input or output device
// cannot be opened. It is fatal to the session: without a sound card there is
// no assistant.
var ErrDeviceUnavailable = errors.New("audio: device unavailable")

// Source is a continuous, lazily produced sequence of microphone frames.
//
// A Source is infinite and cannot be restarted once closed. Closing releases
// the underlying device and closes the Frames channel.
//
// Implementations must be safe for concurrent use.
type Source interface {
	// Frames returns the channel on which captured frames are delivered in
	// capture order. The same channel is returned on every call.
	Frames() <-chan Frame

	// Format returns the fixed sample format of every frame.
	Format() Format

	// Close stops capture and releases the device. Close is idempotent.
	Close() error
}
