//go:build linux

package sip_engine

import (
	"golang.org/x/sys/unix"
)

// setSockOptDSCP устанавливает DSCP в старших 6 битах TOS
func setSockOptDSCP(fd, dscp int) error {
	tos := dscp << 2
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_TOS, tos); err != nil {
		return err
	}
	// для IPv4 сокета IPV6_TCLASS не применим
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_TCLASS, tos)
	return nil
}

// setSockOptPriority приоритет очереди для интерактивного аудио
func setSockOptPriority(fd int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_PRIORITY, 6)
}
