package sandbox

import "bytes"

// boundedBuffer captures up to limit bytes and silently drops the rest.
// Write never fails, so a chatty child cannot make cmd.Wait report a copy error.
type boundedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func newBoundedBuffer(limit int) *boundedBuffer {
	return &boundedBuffer{limit: limit}
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	remaining := b.limit - b.buf.Len()
	if remaining <= 0 {
		if n > 0 {
			b.truncated = true
		}
		return n, nil
	}
	if len(p) > remaining {
		p = p[:remaining]
		b.truncated = true
	}
	b.buf.Write(p)
	return n, nil
}

func (b *boundedBuffer) Bytes() []byte {
	return bytes.Clone(b.buf.Bytes())
}

func (b *boundedBuffer) Truncated() bool { return b.truncated }
