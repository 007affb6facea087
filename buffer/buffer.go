// Package buffer 提供定长字节缓冲，连接的输入/输出各一块。
// 缓冲以读写游标划分两个视图：Writable 为可填充窗口，Readable 为可消费窗口。
// 容量固定，不扩容；压力只能通过 Pipeline 的读写抑制解决。
package buffer

import (
	"errors"
)

var ErrFull = errors.New("buffer: full")

// Buffer 满足 0 <= r <= w <= cap。
// 非并发安全：只在所属 shard 的 goroutine 上使用。
type Buffer struct {
	buf []byte
	r   int
	w   int
}

// New 返回容量为 capacity 的缓冲。
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &Buffer{buf: make([]byte, capacity)}
}

func (b *Buffer) Cap() int { return len(b.buf) }

// Len 为可读字节数。
func (b *Buffer) Len() int { return b.w - b.r }

// Free 为 Compact 之后最多可填充的字节数。
func (b *Buffer) Free() int { return len(b.buf) - b.Len() }

// Full 表示即使 Compact 也无法再填充。
func (b *Buffer) Full() bool { return b.Len() == len(b.buf) }

// Readable 返回可读视图，调用方 Consume 之前有效。
func (b *Buffer) Readable() []byte { return b.buf[b.r:b.w] }

// Writable 返回尾部可写视图，写入后需 Produce。
func (b *Buffer) Writable() []byte { return b.buf[b.w:] }

// Produce 提交刚写入 Writable 的 n 字节。
func (b *Buffer) Produce(n int) {
	if n < 0 || n > len(b.buf)-b.w {
		panic("buffer: produce out of range")
	}
	b.w += n
}

// Consume 前进读游标，返回实际前进的字节数。
func (b *Buffer) Consume(n int) int {
	if n > b.Len() {
		n = b.Len()
	}
	if n < 0 {
		n = 0
	}
	b.r += n
	if b.r == b.w {
		b.r, b.w = 0, 0
	}
	return n
}

// Compact 把未读数据移到头部，释放尾部空间。
func (b *Buffer) Compact() {
	if b.r == 0 {
		return
	}
	n := copy(b.buf, b.buf[b.r:b.w])
	b.r, b.w = 0, n
}

// Write 尽量拷贝 p，空间不足时返回已写字节数和 ErrFull。
func (b *Buffer) Write(p []byte) (int, error) {
	if len(p) > len(b.buf)-b.w {
		b.Compact()
	}
	n := copy(b.buf[b.w:], p)
	b.w += n
	if n < len(p) {
		return n, ErrFull
	}
	return n, nil
}
