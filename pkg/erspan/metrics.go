//go:build unix

package erspan

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "erspan"

var (
	exportedPackets = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "export",
		Name:      "packets_total",
		Help:      "Number of tunneled datagrams sent to a destination.",
	}, []string{"destination"})

	exportedBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "export",
		Name:      "bytes_total",
		Help:      "Number of bytes (tunnel header included) sent to a destination.",
	}, []string{"destination"})

	exportErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "export",
		Name:      "errors_total",
		Help:      "Number of failed exports by destination and error type.",
	}, []string{"destination", "type"})

	enobufsRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "export",
		Name:      "enobufs_retries_total",
		Help:      "Number of send retries caused by kernel buffer exhaustion.",
	}, []string{"destination"})

	truncatedFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "export",
		Name:      "truncated_total",
		Help:      "Number of frames cut to the maximum frame length before sending.",
	}, []string{"destination"})
)

func errorType(kind error) string {
	switch kind {
	case ErrSocketNotOpen:
		return "not_open"
	case ErrShortWrite:
		return "short_write"
	case ErrRetryExhausted:
		return "retry_exhausted"
	default:
		return "send"
	}
}
