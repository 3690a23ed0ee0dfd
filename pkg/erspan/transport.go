//go:build unix

package erspan

import (
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

// DefaultRetryInterval is the wait between two sends retried on ENOBUFS.
const DefaultRetryInterval = time.Millisecond

// transmit copies the frame behind the header of every destination buffer and
// sends it. Destinations are handled in index order and a failure on one does
// not stop the others; all failures are combined into the returned error.
func (x *Engine) transmit(ts time.Time, frame []byte) error {
	truncated := len(frame) > MaxFrameLength
	if truncated {
		frame = frame[:MaxFrameLength]
	}

	var now time.Time
	if x.settings.NeedHeaderUpdate && x.settings.EnableTimestamp {
		now = x.now()
	}

	var errs error
	for _, d := range x.destinations {
		if x.settings.NeedHeaderUpdate {
			UpdateHeader(d.buf, x.settings.EnableSequence, x.settings.EnableTimestamp, x.startTime, now)
		}

		if !d.isOpen() {
			errs = multierr.Append(errs, x.fail(d, ErrSocketNotOpen, nil))
			continue
		}

		n := copy(d.buf[x.headerLength:], frame)
		if truncated {
			truncatedFrames.WithLabelValues(d.endpoint).Inc()
		}

		datagram := d.buf[:x.headerLength+n]
		if err := x.send(d, datagram); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}

		if x.recorder != nil {
			if err := x.recorder.Record(ts, sockaddrIP(d.addr), datagram); err != nil {
				d.logger().WithError(err).Warn("Fail to record tunneled datagram")
			}
		}
	}

	return errs
}

// send transmits one datagram. ENOBUFS is retried after RetryInterval until
// the kernel accepts the datagram, another error occurs or RetryLimit (if
// positive) retries have been spent.
func (x *Engine) send(d *destination, datagram []byte) error {
	for retry := 0; ; retry++ {
		n, err := x.sockets.Sendto(d.fd, datagram, d.addr)
		if errors.Is(err, unix.ENOBUFS) {
			if x.retryLimit > 0 && retry >= x.retryLimit {
				return x.fail(d, ErrRetryExhausted, errors.Wrapf(err, "gave up after %d retries", retry))
			}
			enobufsRetries.WithLabelValues(d.endpoint).Inc()
			time.Sleep(x.retryInterval)
			continue
		}
		if err != nil {
			return x.fail(d, ErrSend, err)
		}

		if n < len(datagram) {
			return x.fail(d, ErrShortWrite, errors.Errorf("sent %d of %d bytes", n, len(datagram)))
		}

		exportedPackets.WithLabelValues(d.endpoint).Inc()
		exportedBytes.WithLabelValues(d.endpoint).Add(float64(n))
		return nil
	}
}

func (x *Engine) fail(d *destination, kind, err error) error {
	exportErrors.WithLabelValues(d.endpoint, errorType(kind)).Inc()
	destErr := newDestinationError(d, kind, err)

	entry := d.logger().WithError(destErr)
	if kind == ErrShortWrite {
		entry.Warn("Short write to destination")
	} else {
		entry.WithFields(logrus.Fields{"fd": d.fd}).Debug("Fail to export frame")
	}
	return destErr
}
