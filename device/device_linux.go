//go:build linux

package device

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// pollInterval bounds how long a blocked Read waits before rechecking
// ctx, in the absence of epoll-based cancellation.
const pollInterval = 200 * time.Millisecond

// LinuxDevice is an AF_PACKET/SOCK_RAW socket bound to one interface,
// receiving and sending whole Ethernet frames unmodified by the kernel's
// IP stack.
type LinuxDevice struct {
	fd   int
	name string
	mac  net.HardwareAddr
	mtu  int
}

// Open binds a raw socket to the named interface. The caller needs
// CAP_NET_RAW (or root).
func Open(name string) (*LinuxDevice, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, fmt.Errorf("device: lookup %s: %w", name, err)
	}

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(unix.ETH_P_ALL)))
	if err != nil {
		return nil, fmt.Errorf("device: socket: %w", err)
	}

	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &unix.Timeval{
		Sec:  int64(pollInterval / time.Second),
		Usec: int64((pollInterval % time.Second) / time.Microsecond),
	}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("device: set receive timeout: %w", err)
	}

	addr := &unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ALL),
		Ifindex:  iface.Index,
	}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("device: bind to %s: %w", name, err)
	}

	return &LinuxDevice{fd: fd, name: name, mac: iface.HardwareAddr, mtu: iface.MTU}, nil
}

func (d *LinuxDevice) ReadFrame(ctx context.Context, buf []byte) (int, error) {
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		n, err := unix.Read(d.fd, buf)
		if err == nil {
			return n, nil
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			continue
		}
		return 0, fmt.Errorf("device: read %s: %w", d.name, err)
	}
}

func (d *LinuxDevice) WriteFrame(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := unix.Write(d.fd, frame)
	if err != nil {
		return fmt.Errorf("device: write %s: %w", d.name, err)
	}
	return nil
}

// WriteFrames flushes multiple frames in a single writev(2) call.
func (d *LinuxDevice) WriteFrames(ctx context.Context, frames [][]byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := unix.Writev(d.fd, frames); err != nil {
		return fmt.Errorf("device: writev %s: %w", d.name, err)
	}
	return nil
}

func (d *LinuxDevice) HardwareAddr() []byte { return d.mac }
func (d *LinuxDevice) MTU() int             { return d.mtu }

func (d *LinuxDevice) Close() error {
	return unix.Close(d.fd)
}

func htons(v uint16) uint16 {
	return (v<<8)&0xff00 | (v>>8)&0x00ff
}
