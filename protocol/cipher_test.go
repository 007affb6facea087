package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legamerdc/nio"
	"github.com/legamerdc/nio/buffer"
)

func TestXORCipherChunkingIndependent(t *testing.T) {
	plain := bytes.Repeat([]byte("the quick brown fox "), 10)
	tx, rx := NewXORCipher([]byte("secret")), NewXORCipher([]byte("secret"))

	wire := append([]byte(nil), plain...)
	for i, step := 0, 1; i < len(wire); i, step = i+step, step+2 {
		tx.EncryptInPlace(wire[i:min(i+step, len(wire))])
	}
	assert.NotEqual(t, plain, wire)
	rx.DecryptInPlace(wire[:7])
	rx.DecryptInPlace(wire[7:])
	assert.Equal(t, plain, wire)
}

func TestCipherStageRoundTrip(t *testing.T) {
	key := []byte{0x5a, 0xa5, 0x3c}
	p := newFakePipeline()
	netIn, netOut := buffer.New(128), buffer.New(128)
	h := &recordingHandler{reply: echoReply}
	srv := &Server{Handler: h, Options: Options{BatchMsgs: 1}, NewCipher: func() Cipher { return NewXORCipher(key) }}
	s := srv.Connect(p, netIn, netOut)

	peer := NewXORCipher(key)
	wire := append(frame(t, 3, "hello"), frame(t, 4, "world")...)
	peer.EncryptInPlace(wire)
	feed(t, netIn, wire)

	require.NoError(t, s.Read())
	assert.Equal(t, []message{{3, "hello"}, {4, "world"}}, h.msgs)
	assert.Equal(t, 0, netIn.Len())

	p.run()
	assert.True(t, p.writing)
	require.NoError(t, s.Write())
	reply := append([]byte(nil), netOut.Readable()...)
	assert.NotContains(t, string(reply), "hello")
	peer.DecryptInPlace(reply)
	got, _ := collect(t, NewParser(0, 0), reply)
	assert.Equal(t, []message{{3, "hello"}, {4, "world"}}, got)
}

// innerStage 记录明文缓冲上的读取
type innerStage struct {
	p     nio.Pipeline
	in    *buffer.Buffer
	seen  []byte
	reads int
}

func (s *innerStage) Read() error {
	s.reads++
	s.seen = append(s.seen, s.in.Readable()...)
	s.in.Consume(s.in.Len())
	return nil
}

func (s *innerStage) Write() error { return nil }
func (s *innerStage) Close()       {}

func TestCipherStagePumpsResidualOnEncourage(t *testing.T) {
	key := []byte("k")
	p := newFakePipeline()
	netIn := buffer.New(32)
	var inner *innerStage
	s := NewCipherStage(p, netIn, buffer.New(32), NewXORCipher(key), func(ip nio.Pipeline, in, out *buffer.Buffer) nio.Stage {
		inner = &innerStage{p: ip, in: in}
		return inner
	})

	inner.p.SuppressReads()
	assert.False(t, p.reading)

	wire := []byte("residual")
	NewXORCipher(key).EncryptInPlace(wire)
	feed(t, netIn, wire)

	inner.p.EncourageReads()
	assert.True(t, p.reading)
	require.Equal(t, 1, p.queued())
	p.run()
	assert.Equal(t, 1, inner.reads)
	assert.Equal(t, "residual", string(inner.seen))

	// 关闭后不再处理残留
	feed(t, netIn, wire)
	inner.p.SuppressReads()
	inner.p.EncourageReads()
	s.Close()
	p.run()
	assert.Equal(t, 1, inner.reads)
}

func TestCipherPipelineKeepsWritesWhilePending(t *testing.T) {
	p := newFakePipeline()
	netOut := buffer.New(32)
	var inner *innerStage
	NewCipherStage(p, buffer.New(32), netOut, NewXORCipher([]byte("k")), func(ip nio.Pipeline, in, out *buffer.Buffer) nio.Stage {
		inner = &innerStage{p: ip, in: in}
		return inner
	})
	p.EncourageWrites()
	feed(t, netOut, []byte("pending"))
	inner.p.SuppressWrites()
	assert.True(t, p.writing)

	netOut.Consume(netOut.Len())
	inner.p.SuppressWrites()
	assert.False(t, p.writing)
}
