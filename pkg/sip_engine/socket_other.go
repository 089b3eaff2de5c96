//go:build !linux && !darwin

package sip_engine

func setSockOptDSCP(fd, dscp int) error { return nil }

func setSockOptPriority(fd int) error { return nil }
