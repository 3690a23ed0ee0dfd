//go:build unix

package erspan

import (
	"net"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const invalidSocket = -1

// SocketOps is the raw socket surface used by destinations. The default
// implementation issues the system calls directly; tests replace it.
type SocketOps interface {
	// Open creates a raw GRE socket in the given address family.
	Open(family int) (int, error)
	// BindToDevice restricts the socket to one network interface.
	BindToDevice(fd int, device string) error
	// SetPMTUDisc sets the path MTU discovery mode of the socket.
	SetPMTUDisc(fd, family int, mode PMTUDisc) error
	// Sendto transmits p to the address and returns the number of bytes sent.
	Sendto(fd int, p []byte, to unix.Sockaddr) (int, error)
	Close(fd int) error
}

// ResolveFunc turns a textual endpoint into a socket address and its address family.
type ResolveFunc func(endpoint string) (unix.Sockaddr, int, error)

// ResolveEndpoint resolves an IPv4/IPv6 literal or host name. The first address returned by the resolver is used.
func ResolveEndpoint(endpoint string) (unix.Sockaddr, int, error) {
	addr, err := net.ResolveIPAddr("ip", endpoint)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "Fail to resolve %s", endpoint)
	}

	if ip4 := addr.IP.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{}
		copy(sa.Addr[:], ip4)
		return sa, unix.AF_INET, nil
	}

	if ip6 := addr.IP.To16(); ip6 != nil {
		sa := &unix.SockaddrInet6{}
		copy(sa.Addr[:], ip6)
		if addr.Zone != "" {
			if iface, err := net.InterfaceByName(addr.Zone); err == nil {
				sa.ZoneId = uint32(iface.Index)
			}
		}
		return sa, unix.AF_INET6, nil
	}

	return nil, 0, errors.Errorf("%s is neither IPv4 nor IPv6", endpoint)
}

// sockaddrIP returns the IP of a resolved destination address.
func sockaddrIP(sa unix.Sockaddr) net.IP {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return net.IP(v.Addr[:])
	case *unix.SockaddrInet6:
		return net.IP(v.Addr[:])
	default:
		return nil
	}
}
