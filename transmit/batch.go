// Package transmit groups outbound frames by sink and flushes each
// group as a single vectored write where the sink supports it, and
// drives the OBU's cached-upstream failover loop when a send to the
// wire side fails.
package transmit

import "context"

// FrameWriter is the minimal write side of device.Device / tap.Interface.
type FrameWriter interface {
	WriteFrame(ctx context.Context, frame []byte) error
}

// VectoredFrameWriter additionally supports flushing several frames in
// one underlying writev(2) call.
type VectoredFrameWriter interface {
	FrameWriter
	WriteFrames(ctx context.Context, frames [][]byte) error
}

// Batch accumulates frames destined for one sink and flushes them
// together, so a burst of replies built while handling one inbound
// frame costs one syscall instead of one per reply.
type Batch struct {
	w      FrameWriter
	frames [][]byte
}

// NewBatch returns a Batch that will flush to w.
func NewBatch(w FrameWriter) *Batch {
	return &Batch{w: w}
}

// Add appends frame to the batch. frame is retained, not copied; callers
// must not reuse its backing array until Flush returns.
func (b *Batch) Add(frame []byte) {
	b.frames = append(b.frames, frame)
}

// Len reports how many frames are queued.
func (b *Batch) Len() int { return len(b.frames) }

// Flush writes every queued frame and resets the batch, even on error.
// When the sink supports vectored writes and more than one frame is
// queued, all frames go out in a single writev(2) call; otherwise each
// frame is written individually and the first failure is returned
// wrapped in a SendError, after every frame has been attempted.
func (b *Batch) Flush(ctx context.Context) error {
	frames := b.frames
	b.frames = nil
	if len(frames) == 0 {
		return nil
	}

	if vw, ok := b.w.(VectoredFrameWriter); ok && len(frames) > 1 {
		if err := vw.WriteFrames(ctx, frames); err != nil {
			return SendError{err}
		}
		return nil
	}

	var first error
	for _, frame := range frames {
		if err := b.w.WriteFrame(ctx, frame); err != nil && first == nil {
			first = err
		}
	}
	if first != nil {
		return SendError{first}
	}
	return nil
}
