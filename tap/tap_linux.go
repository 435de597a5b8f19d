//go:build linux

package tap

import (
	"context"
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	ifTap    = 0x0002
	ifNoPI   = 0x1000
	tunSetIF = 0x400454ca // TUNSETIFF, linux/if_tun.h
)

type ifReq struct {
	name  [16]byte
	flags uint16
	_     [22]byte
}

// LinuxTap is a Linux tun/tap character device opened in TAP mode
// (whole Ethernet frames, no packet-info prefix).
type LinuxTap struct {
	file *os.File
	name string
}

// Open creates (or attaches to) the tap interface named name. An empty
// name lets the kernel assign one, which is then reported by Name.
func Open(name string) (*LinuxTap, error) {
	file, err := os.OpenFile("/dev/net/tun", os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("tap: open /dev/net/tun: %w", err)
	}

	var req ifReq
	copy(req.name[:], name)
	req.flags = ifTap | ifNoPI

	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, file.Fd(), tunSetIF, uintptr(unsafe.Pointer(&req))); errno != 0 {
		file.Close()
		return nil, fmt.Errorf("tap: TUNSETIFF: %w", errno)
	}

	assigned := string(req.name[:])
	for i, b := range req.name {
		if b == 0 {
			assigned = string(req.name[:i])
			break
		}
	}

	return &LinuxTap{file: file, name: assigned}, nil
}

func (t *LinuxTap) ReadFrame(ctx context.Context, buf []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := t.file.Read(buf)
	if err != nil {
		return 0, fmt.Errorf("tap: read %s: %w", t.name, err)
	}
	return n, nil
}

func (t *LinuxTap) WriteFrame(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := t.file.Write(frame); err != nil {
		return fmt.Errorf("tap: write %s: %w", t.name, err)
	}
	return nil
}

// WriteFrames flushes multiple frames in a single writev(2) call.
func (t *LinuxTap) WriteFrames(ctx context.Context, frames [][]byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := unix.Writev(int(t.file.Fd()), frames); err != nil {
		return fmt.Errorf("tap: writev %s: %w", t.name, err)
	}
	return nil
}

func (t *LinuxTap) Name() string { return t.name }

func (t *LinuxTap) Close() error { return t.file.Close() }
