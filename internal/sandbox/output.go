package sandbox

import (
	"bytes"
	"io"
	"sync"
)

const truncatedMarker = "\n... [output truncated]"

// cappedBuffer keeps the first max bytes written and discards the rest.
// Writes never fail so the producer is not stalled.
type cappedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	max       int
	truncated bool
}

func newCappedBuffer(max int) *cappedBuffer {
	return &cappedBuffer{max: max}
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	remaining := c.max - c.buf.Len()
	if remaining <= 0 {
		if len(p) > 0 {
			c.truncated = true
		}
		return len(p), nil
	}
	if len(p) > remaining {
		c.buf.Write(p[:remaining])
		c.truncated = true
		return len(p), nil
	}
	c.buf.Write(p)
	return len(p), nil
}

func (c *cappedBuffer) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.truncated {
		return c.buf.String() + truncatedMarker
	}
	return c.buf.String()
}

// tee captures into a capped buffer and forwards to w when w is non-nil.
func tee(capture *cappedBuffer, w io.Writer) io.Writer {
	if w == nil {
		return capture
	}
	return io.MultiWriter(capture, &forgivingWriter{w: w})
}

// forgivingWriter stops forwarding after the first error instead of failing
// the whole MultiWriter, so a dead stream consumer cannot kill the capture.
type forgivingWriter struct {
	w      io.Writer
	failed bool
}

func (f *forgivingWriter) Write(p []byte) (int, error) {
	if !f.failed {
		if _, err := f.w.Write(p); err != nil {
			f.failed = true
		}
	}
	return len(p), nil
}
