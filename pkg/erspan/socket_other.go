//go:build unix && !linux

package erspan

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

var errUnsupportedPlatform = errors.New("raw GRE sockets are supported on linux only")

type systemSocket struct{}

// SystemSocket returns the SocketOps backed by real raw sockets. It always fails outside linux.
func SystemSocket() SocketOps {
	return &systemSocket{}
}

func (x *systemSocket) Open(family int) (int, error) { return invalidSocket, errUnsupportedPlatform }
func (x *systemSocket) BindToDevice(fd int, device string) error { return errUnsupportedPlatform }
func (x *systemSocket) SetPMTUDisc(fd, family int, mode PMTUDisc) error { return errUnsupportedPlatform }
func (x *systemSocket) Close(fd int) error { return unix.Close(fd) }

func (x *systemSocket) Sendto(fd int, p []byte, to unix.Sockaddr) (int, error) {
	return 0, errUnsupportedPlatform
}
