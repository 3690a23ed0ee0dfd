package erspan

import (
	"github.com/pkg/errors"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

type systemSocket struct{}

// SystemSocket returns the SocketOps backed by real raw sockets. Opening one needs CAP_NET_RAW.
func SystemSocket() SocketOps {
	return &systemSocket{}
}

func (x *systemSocket) Open(family int) (int, error) {
	fd, err := unix.Socket(family, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.IPPROTO_GRE)
	if err != nil {
		return invalidSocket, errors.Wrap(err, "Fail to create raw GRE socket")
	}
	return fd, nil
}

func (x *systemSocket) BindToDevice(fd int, device string) error {
	if _, err := netlink.LinkByName(device); err != nil {
		return errors.Wrapf(err, "Fail to find device %s", device)
	}
	if err := unix.SetsockoptString(fd, unix.SOL_SOCKET, unix.SO_BINDTODEVICE, device); err != nil {
		return errors.Wrapf(err, "SO_BINDTODEVICE %s failed", device)
	}
	return nil
}

func (x *systemSocket) SetPMTUDisc(fd, family int, mode PMTUDisc) error {
	level, opt, value := unix.SOL_IP, unix.IP_MTU_DISCOVER, 0
	if family == unix.AF_INET6 {
		level, opt = unix.IPPROTO_IPV6, unix.IPV6_MTU_DISCOVER
	}

	switch mode {
	case PMTUDiscDont:
		value = unix.IP_PMTUDISC_DONT
	case PMTUDiscWant:
		value = unix.IP_PMTUDISC_WANT
	case PMTUDiscDo:
		value = unix.IP_PMTUDISC_DO
	default:
		return nil
	}

	if err := unix.SetsockoptInt(fd, level, opt, value); err != nil {
		return errors.Wrapf(err, "MTU_DISCOVER %s failed", mode)
	}
	return nil
}

func (x *systemSocket) Sendto(fd int, p []byte, to unix.Sockaddr) (int, error) {
	return unix.SendmsgN(fd, p, nil, to, 0)
}

func (x *systemSocket) Close(fd int) error {
	return unix.Close(fd)
}
