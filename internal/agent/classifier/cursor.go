package classifier

import "encoding/binary"

// cursor 按顺序消费帧，每次读取前都做边界检查，越界时返回 false 而不是 panic。
type cursor struct {
	buf []byte
	off int
}

func (c *cursor) take(n int) ([]byte, bool) {
	if n < 0 || len(c.buf)-c.off < n {
		return nil, false
	}
	b := c.buf[c.off : c.off+n]
	c.off += n
	return b, true
}

func (c *cursor) skip(n int) bool {
	_, ok := c.take(n)
	return ok
}

func (c *cursor) u16() (uint16, bool) {
	b, ok := c.take(2)
	if !ok {
		return 0, false
	}
	return binary.BigEndian.Uint16(b), true
}

func (c *cursor) remaining() int {
	return len(c.buf) - c.off
}

func (c *cursor) rest() []byte {
	return c.buf[c.off:]
}
