package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProduceConsume(t *testing.T) {
	b := New(8)
	assert.Equal(t, 8, b.Cap())
	assert.Equal(t, 0, b.Len())
	assert.Len(t, b.Writable(), 8)

	n := copy(b.Writable(), "hello")
	b.Produce(n)
	assert.Equal(t, []byte("hello"), b.Readable())
	assert.Equal(t, 3, b.Free())

	assert.Equal(t, 2, b.Consume(2))
	assert.Equal(t, []byte("llo"), b.Readable())
	// 尾部窗口不因消费而变大，需要 Compact
	assert.Len(t, b.Writable(), 3)
	b.Compact()
	assert.Len(t, b.Writable(), 5)
	assert.Equal(t, []byte("llo"), b.Readable())
}

func TestConsumeAllRewinds(t *testing.T) {
	b := New(4)
	b.Produce(copy(b.Writable(), "abcd"))
	assert.True(t, b.Full())
	assert.Equal(t, 4, b.Consume(10))
	assert.Equal(t, 0, b.Len())
	assert.Len(t, b.Writable(), 4)
}

func TestWriteShort(t *testing.T) {
	b := New(4)
	n, err := b.Write([]byte("ab"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	b.Consume(1)

	n, err = b.Write([]byte("cdef"))
	assert.ErrorIs(t, err, ErrFull)
	assert.Equal(t, 3, n)
	assert.Equal(t, []byte("bcde"), b.Readable())
	assert.Equal(t, 4, b.Cap())
}

func TestProduceOutOfRange(t *testing.T) {
	b := New(2)
	assert.Panics(t, func() { b.Produce(3) })
}
