//go:build unix

package erspan

import (
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// destination is one remote collector: its endpoint text, resolved address,
// raw socket and send buffer. The buffer starts with the tunnel header and
// the captured frame is copied right after it.
type destination struct {
	index    int
	endpoint string
	addr     unix.Sockaddr
	family   int
	fd       int
	buf      []byte
}

func newDestination(index int, endpoint string) *destination {
	return &destination{
		index:    index,
		endpoint: endpoint,
		fd:       invalidSocket,
		buf:      make([]byte, HeaderLength+MaxFrameLength),
	}
}

func (x *destination) isOpen() bool {
	return x.fd != invalidSocket
}

func (x *destination) logger() *logrus.Entry {
	return Logger.WithFields(logrus.Fields{
		"index":    x.index,
		"endpoint": x.endpoint,
	})
}

// openIfNeeded resolves the endpoint and opens the raw socket. It does nothing
// when the socket is already open. On failure the socket stays unopened.
func (x *destination) openIfNeeded(sock SocketOps, resolve ResolveFunc, bindDevice string, pmtu PMTUDisc) error {
	if x.isOpen() {
		return nil
	}

	addr, family, err := resolve(x.endpoint)
	if err != nil {
		x.logger().WithError(err).Error("Fail to resolve remote address")
		return newDestinationError(x, ErrAddressResolution, err)
	}
	x.addr, x.family = addr, family

	fd, err := sock.Open(family)
	if err != nil {
		x.logger().WithError(err).Error("Fail to create socket")
		return newDestinationError(x, ErrSocketSetup, err)
	}

	if bindDevice != "" {
		if err := sock.BindToDevice(fd, bindDevice); err != nil {
			x.logger().WithError(err).WithField("device", bindDevice).Error("Fail to bind socket to device")
			x.discard(sock, fd)
			return newDestinationError(x, ErrSocketSetup, err)
		}
	}

	if pmtu != PMTUDiscUnset {
		if err := sock.SetPMTUDisc(fd, family, pmtu); err != nil {
			x.logger().WithError(err).WithField("pmtudisc", pmtu).Error("Fail to set path MTU discovery")
			x.discard(sock, fd)
			return newDestinationError(x, ErrSocketSetup, err)
		}
	}

	x.fd = fd
	x.logger().WithField("fd", fd).Debug("Opened raw GRE socket")
	return nil
}

func (x *destination) discard(sock SocketOps, fd int) {
	if err := sock.Close(fd); err != nil {
		x.logger().WithError(err).Warn("Fail to close half configured socket")
	}
}

// close closes the socket. Closing an unopened or closed socket is a no-op.
func (x *destination) close(sock SocketOps) error {
	if !x.isOpen() {
		return nil
	}

	fd := x.fd
	x.fd = invalidSocket
	if err := sock.Close(fd); err != nil {
		return newDestinationError(x, ErrSocketSetup, err)
	}
	return nil
}
