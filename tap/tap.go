// Package tap implements the local virtual Ethernet endpoint that
// bridges host traffic into the overlay: frames written by the kernel
// toward the tap interface are what a node injects onto the mesh, and
// frames a node writes to the tap device appear to the kernel as if
// they arrived on a real Ethernet segment.
package tap

import (
	"context"
	"io"
)

// Interface reads and writes whole Ethernet frames against a host tap
// device.
type Interface interface {
	io.Closer

	ReadFrame(ctx context.Context, buf []byte) (n int, err error)
	WriteFrame(ctx context.Context, frame []byte) error

	// Name returns the kernel-assigned or requested interface name.
	Name() string
}
