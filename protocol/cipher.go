package protocol

import (
	"github.com/legamerdc/nio"
	"github.com/legamerdc/nio/buffer"
)

// Cipher 为长度不变的流式加解密，按字节顺序连续调用
type Cipher interface {
	EncryptInPlace(p []byte)
	DecryptInPlace(p []byte)
}

// StageFactory 在给定的明文缓冲上构造内层 Stage
type StageFactory func(p nio.Pipeline, in, out *buffer.Buffer) nio.Stage

// cipherStage 位于 socket 缓冲与内层 Stage 之间：
// netIn -> 解密 -> plainIn -> inner；inner -> plainOut -> 加密 -> netOut
type cipherStage struct {
	p        *cipherPipeline
	c        Cipher
	netIn    *buffer.Buffer
	netOut   *buffer.Buffer
	plainIn  *buffer.Buffer
	plainOut *buffer.Buffer
	inner    nio.Stage
	closed   bool
}

// NewCipherStage 以与网络缓冲同样大小的明文缓冲包装内层 Stage
func NewCipherStage(p nio.Pipeline, netIn, netOut *buffer.Buffer, c Cipher, inner StageFactory) nio.Stage {
	s := &cipherStage{
		c:        c,
		netIn:    netIn,
		netOut:   netOut,
		plainIn:  buffer.New(netIn.Cap()),
		plainOut: buffer.New(netOut.Cap()),
	}
	s.p = &cipherPipeline{Pipeline: p, s: s}
	s.inner = inner(s.p, s.plainIn, s.plainOut)
	return s
}

// decrypt 把 netIn 中能放下的部分解密进 plainIn
func (s *cipherStage) decrypt() {
	s.plainIn.Compact()
	dst := s.plainIn.Writable()
	n := copy(dst, s.netIn.Readable())
	if n == 0 {
		return
	}
	s.c.DecryptInPlace(dst[:n])
	s.plainIn.Produce(n)
	s.netIn.Consume(n)
}

func (s *cipherStage) encrypt() {
	s.netOut.Compact()
	dst := s.netOut.Writable()
	n := copy(dst, s.plainOut.Readable())
	if n == 0 {
		return
	}
	s.c.EncryptInPlace(dst[:n])
	s.netOut.Produce(n)
	s.plainOut.Consume(n)
}

func (s *cipherStage) Read() error {
	s.decrypt()
	if err := s.inner.Read(); err != nil {
		return err
	}
	// 内层可能在 Read 中直接产出了回复
	s.encrypt()
	return nil
}

func (s *cipherStage) Write() error {
	if err := s.inner.Write(); err != nil {
		return err
	}
	s.encrypt()
	return nil
}

func (s *cipherStage) Close() {
	s.closed = true
	s.inner.Close()
}

// pump 处理 netIn 中残留的密文，socket 未必再有读事件
func (s *cipherStage) pump() {
	if s.closed || (s.netIn.Len() == 0 && s.plainIn.Len() == 0) {
		return
	}
	if err := s.Read(); err != nil {
		s.p.Log("Cipher pump: %v", err)
		s.p.Close()
	}
}

// cipherPipeline 为内层 Stage 看到的 Pipeline
type cipherPipeline struct {
	nio.Pipeline
	s          *cipherStage
	suppressed bool
}

func (p *cipherPipeline) SuppressReads() {
	p.suppressed = true
	p.Pipeline.SuppressReads()
}

func (p *cipherPipeline) EncourageReads() {
	if p.suppressed {
		p.suppressed = false
		p.Pipeline.Queue(p.s.pump)
	}
	p.Pipeline.EncourageReads()
}

// SuppressWrites 仅在密文也已写空时下传
func (p *cipherPipeline) SuppressWrites() {
	if p.s.netOut.Len() == 0 && p.s.plainOut.Len() == 0 {
		p.Pipeline.SuppressWrites()
	}
}

// xorCipher 为演示与测试用的重复密钥异或，收发各自维护偏移
type xorCipher struct {
	key    []byte
	rx, tx int
}

// NewXORCipher 不提供任何安全性，仅用于演练加密 Stage
func NewXORCipher(key []byte) Cipher {
	if len(key) == 0 {
		key = []byte{0}
	}
	return &xorCipher{key: append([]byte(nil), key...)}
}

func (c *xorCipher) EncryptInPlace(p []byte) { c.tx = c.xor(p, c.tx) }
func (c *xorCipher) DecryptInPlace(p []byte) { c.rx = c.xor(p, c.rx) }

func (c *xorCipher) xor(p []byte, off int) int {
	for i := range p {
		p[i] ^= c.key[off]
		off++
		if off == len(c.key) {
			off = 0
		}
	}
	return off
}
