// Package device implements the raw Ethernet side channel: a socket
// bound to a network interface that sends and receives whole frames,
// bypassing the kernel's IP stack the way AF_PACKET/SOCK_RAW does on
// Linux.
package device

import (
	"context"
	"io"
)

// Device reads and writes raw Ethernet frames on one network interface.
type Device interface {
	io.Closer

	// ReadFrame blocks until a frame arrives or ctx is done, returning
	// it in buf[:n]. buf must be large enough for the interface's MTU
	// plus an Ethernet header.
	ReadFrame(ctx context.Context, buf []byte) (n int, err error)

	// WriteFrame sends a complete, already-framed Ethernet frame.
	WriteFrame(ctx context.Context, frame []byte) error

	// HardwareAddr returns the interface's own MAC address.
	HardwareAddr() []byte

	// MTU returns the interface's maximum transmission unit.
	MTU() int
}
