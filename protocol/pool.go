package protocol

import (
	"errors"
	"sync"

	"github.com/klauspost/compress/zstd"
)

var (
	encoderPool = sync.Pool{New: func() any {
		enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest), zstd.WithEncoderConcurrency(1))
		return enc
	}}
	// 按解压上限分池：上限在解码过程中生效，超限的帧不会先整体解压出来
	decoderPools sync.Map // uint64 -> *sync.Pool
)

func decoderPool(limit uint64) *sync.Pool {
	if p, ok := decoderPools.Load(limit); ok {
		return p.(*sync.Pool)
	}
	p, _ := decoderPools.LoadOrStore(limit, &sync.Pool{New: func() any {
		dec, _ := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1), zstd.WithDecoderMaxMemory(limit))
		return dec
	}})
	return p.(*sync.Pool)
}

// compress 把 src 压缩后追加到 dst
func compress(dst, src []byte) []byte {
	zw := encoderPool.Get().(*zstd.Encoder)
	defer encoderPool.Put(zw)
	return zw.EncodeAll(src, dst)
}

// decompress 解压后超过 limit 字节时返回 ErrPayloadTooLarge
func decompress(src []byte, limit uint64) ([]byte, error) {
	pool := decoderPool(limit)
	dz := pool.Get().(*zstd.Decoder)
	defer pool.Put(dz)
	out, err := dz.DecodeAll(src, nil)
	if errors.Is(err, zstd.ErrDecoderSizeExceeded) || errors.Is(err, zstd.ErrWindowSizeExceeded) {
		return nil, ErrPayloadTooLarge
	}
	return out, err
}
