//go:build linux

package initproc

import (
	"nsbox/pkg/errors"

	"golang.org/x/sys/unix"
)

// setupNetwork brings up the loopback interface of the empty network
// namespace.
func setupNetwork() error {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return errors.Wrapf(err, errors.NamespaceSetupFailed, "loopback socket: %v", err)
	}
	defer unix.Close(fd)

	ifr, err := unix.NewIfreq("lo")
	if err != nil {
		return errors.Wrapf(err, errors.NamespaceSetupFailed, "loopback: %v", err)
	}
	if err := unix.IoctlIfreq(fd, unix.SIOCGIFFLAGS, ifr); err != nil {
		return errors.Wrapf(err, errors.NamespaceSetupFailed, "loopback flags: %v", err)
	}
	ifr.SetUint16(ifr.Uint16() | unix.IFF_UP | unix.IFF_RUNNING)
	if err := unix.IoctlIfreq(fd, unix.SIOCSIFFLAGS, ifr); err != nil {
		return errors.Wrapf(err, errors.NamespaceSetupFailed, "bring up loopback: %v", err)
	}
	return nil
}

func setupUTS(hostName, domainName string) error {
	if err := unix.Sethostname([]byte(hostName)); err != nil {
		return errors.Wrapf(err, errors.NamespaceSetupFailed, "set hostname: %v", err)
	}
	if err := unix.Setdomainname([]byte(domainName)); err != nil {
		return errors.Wrapf(err, errors.NamespaceSetupFailed, "set domainname: %v", err)
	}
	return nil
}
