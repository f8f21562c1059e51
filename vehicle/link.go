package vehicle

import "errors"

var (
	ErrNotConnected   = errors.New("vehicle: not connected")
	ErrWriteFailed    = errors.New("vehicle: write failed")
	ErrWriteThrottled = errors.New("vehicle: write throttled")
)

// Link is the transport to one vehicle. Frames are passed through untouched in
// both directions.
type Link interface {
	Connect() error
	Disconnect() error
	IsConnected() bool
	// WriteRaw sends one frame and reports whether the transport accepted it.
	WriteRaw(frame []byte) bool
	// Subscribe registers the callback that receives every inbound frame.
	Subscribe(onValueChanged func(frame []byte))
}

// StateWatcher is implemented by links that can lose the connection on their
// own, for example when the bridge goes away.
type StateWatcher interface {
	OnStateChange(func(connected bool))
}
