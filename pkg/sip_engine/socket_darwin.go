//go:build darwin

package sip_engine

import (
	"golang.org/x/sys/unix"
)

func setSockOptDSCP(fd, dscp int) error {
	return unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_TOS, dscp<<2)
}

// SO_PRIORITY в macOS нет
func setSockOptPriority(fd int) error { return nil }
