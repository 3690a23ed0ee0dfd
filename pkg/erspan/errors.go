//go:build unix

package erspan

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error kinds. Use errors.Is to test an error returned by the package
// against one of them.
var (
	// ErrConfiguration means the configuration document is malformed. It is fatal for Initialize.
	ErrConfiguration = errors.New("invalid configuration")
	// ErrOutOfRange is the kind of warnings about clamped or defaulted values.
	ErrOutOfRange = errors.New("value out of range")
	// ErrAddressResolution means a remote endpoint could not be turned into a socket address.
	ErrAddressResolution = errors.New("address resolution failed")
	// ErrSocketSetup covers socket creation, device binding and PMTU option failures.
	ErrSocketSetup = errors.New("socket setup failed")
	// ErrSend is any transmission failure other than kernel buffer exhaustion.
	ErrSend = errors.New("send failed")
	// ErrShortWrite means the kernel accepted fewer bytes than requested.
	ErrShortWrite = errors.New("short write")
	// ErrSocketNotOpen is returned when a frame is exported to a destination without an open socket.
	ErrSocketNotOpen = errors.New("socket is not open")
	// ErrRetryExhausted is returned when RetryLimit ENOBUFS retries did not get the datagram out.
	ErrRetryExhausted = errors.New("send retry limit exhausted")
	// ErrInvalidFrame means the frame metadata does not match the frame bytes.
	ErrInvalidFrame = errors.New("invalid frame")
	// ErrNotInitialized is returned by Export before Initialize or after Terminate.
	ErrNotInitialized = errors.New("encapsulator is not initialized")
	// ErrBufferTooShort means a buffer cannot hold the tunnel header.
	ErrBufferTooShort = errors.New("buffer too short for tunnel header")
)

// DestinationError is a failure bound to one configured destination.
type DestinationError struct {
	Index    int
	Endpoint string
	Kind     error
	Err      error
}

func newDestinationError(d *destination, kind, err error) *DestinationError {
	return &DestinationError{
		Index:    d.index,
		Endpoint: d.endpoint,
		Kind:     kind,
		Err:      err,
	}
}

func (x *DestinationError) Error() string {
	msg := fmt.Sprintf("destination[%d] %s: %v", x.Index, x.Endpoint, x.Kind)
	if x.Err != nil {
		msg += ": " + x.Err.Error()
	}
	return msg
}

// Is matches the error kind, e.g. errors.Is(err, ErrSend).
func (x *DestinationError) Is(target error) bool {
	return target == x.Kind
}

// Unwrap returns the underlying cause, usually a syscall error.
func (x *DestinationError) Unwrap() error {
	return x.Err
}

func outOfRange(field string, value int64, format string, args ...interface{}) error {
	return errors.Wrapf(ErrOutOfRange, "%s=%d, "+format, append([]interface{}{field, value}, args...)...)
}

func configError(format string, args ...interface{}) error {
	return errors.Wrapf(ErrConfiguration, format, args...)
}
