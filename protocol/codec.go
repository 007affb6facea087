package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

var (
	ErrFrameTooLarge   = errors.New("protocol: frame exceeds buffer capacity")
	ErrPayloadTooLarge = errors.New("protocol: payload too large")
)

// BatchItem 用于批前镜像编码。
type BatchItem struct {
	Api     uint16
	Payload []byte
}

// Encoder 提供单帧/批量帧编码。
// 注：批量帧总是压缩（Batched => Compressed）。
type Encoder struct{}

func NewEncoder() *Encoder { return &Encoder{} }

// EncodeSingle 返回：头部 + api + payload（压缩可选）。
func (e *Encoder) EncodeSingle(api uint16, payload []byte, compressed bool) ([]byte, error) {
	body := payload
	if compressed {
		body = compress(nil, payload)
	}
	out := make([]byte, 0, headerLen(len(body))+apiLen+len(body))
	out, err := AppendLenFlags(out, len(body), compressed, false)
	if err != nil {
		return nil, err
	}
	out = AppendApi(out, api)
	return append(out, body...), nil
}

// EncodeBatch 将一批消息编码为批前镜像并压缩，返回单帧（Batched=1，隐含 Compressed=1，无 Api 字段）。
// 批前镜像：uvarint(num) { api(2B) uvarint(len) payload }*
func (e *Encoder) EncodeBatch(items []BatchItem) ([]byte, error) {
	size := binary.MaxVarintLen64
	for _, it := range items {
		size += apiLen + binary.MaxVarintLen64 + len(it.Payload)
	}
	pre := make([]byte, 0, size)
	pre = binary.AppendUvarint(pre, uint64(len(items)))
	for _, it := range items {
		pre = AppendApi(pre, it.Api)
		pre = binary.AppendUvarint(pre, uint64(len(it.Payload)))
		pre = append(pre, it.Payload...)
	}
	body := compress(nil, pre)
	out := make([]byte, 0, headerLen(len(body))+len(body))
	out, err := AppendLenFlags(out, len(body), true, true)
	if err != nil {
		return nil, err
	}
	return append(out, body...), nil
}

// Parser 按帧解析；对批量帧进行解压并回调每条消息。
type Parser struct {
	maxPayload  int    // 解压后单条消息上限，0 表示不限
	maxFrame    int    // 整帧上限（通常为输入缓冲容量），0 表示不限
	decodeLimit uint64 // 单次解压输出上限
}

// batchSlack 为批前镜像中计数、api 与长度字段留出的余量
const batchSlack = 4 << 10

func NewParser(maxPayload, maxFrame int) *Parser {
	limit := uint64(longHeadMaxLen)
	if maxPayload > 0 {
		limit = min(uint64(maxPayload)+batchSlack, limit)
	}
	return &Parser{maxPayload: maxPayload, maxFrame: maxFrame, decodeLimit: limit}
}

// Parse 尝试从 buf 解析尽可能多的完整帧；返回已消费字节数。
// 非压缩单帧回调的 payload 直接引用 buf，只在回调期间有效。
// 回调返回错误时终止解析。
func (p *Parser) Parse(buf []byte, onMessage func(api uint16, payload []byte) error) (consumed int, _ error) {
	i := 0
	for {
		if len(buf[i:]) < 2 {
			return i, nil // 不足以判断头
		}
		c, length, compressed, batched, err := DecodeLenFlags(buf[i:])
		if err == errHeaderTooShort {
			return i, nil
		}
		if err != nil {
			return i, err
		}
		total := c + length
		if !batched {
			total += apiLen
		}
		if p.maxFrame > 0 && total > p.maxFrame {
			return i, ErrFrameTooLarge
		}
		if !compressed && p.maxPayload > 0 && length > p.maxPayload {
			return i, ErrPayloadTooLarge
		}
		if len(buf[i:]) < total {
			return i, nil // 不完整帧
		}
		frame := buf[i : i+total]
		i += total
		if !batched {
			api := binary.BigEndian.Uint16(frame[c : c+apiLen])
			msg := frame[c+apiLen:]
			if compressed {
				if msg, err = decompress(msg, p.decodeLimit); err != nil {
					return i, err
				}
				if p.maxPayload > 0 && len(msg) > p.maxPayload {
					return i, ErrPayloadTooLarge
				}
			}
			if err := onMessage(api, msg); err != nil {
				return i, err
			}
			continue
		}
		// 批量：payload 为压缩后的 pre-image
		out, err := decompress(frame[c:], p.decodeLimit)
		if err != nil {
			return i, err
		}
		if err := p.parseBatch(out, onMessage); err != nil {
			return i, err
		}
	}
}

func (p *Parser) parseBatch(pre []byte, onMessage func(api uint16, payload []byte) error) error {
	r := bytes.NewReader(pre)
	num, err := binary.ReadUvarint(r)
	if err != nil {
		return err
	}
	for j := uint64(0); j < num; j++ {
		var ab [apiLen]byte
		if _, err := io.ReadFull(r, ab[:]); err != nil {
			return err
		}
		api := binary.BigEndian.Uint16(ab[:])
		ln, err := binary.ReadUvarint(r)
		if err != nil {
			return err
		}
		if ln > uint64(r.Len()) || (p.maxPayload > 0 && ln > uint64(p.maxPayload)) {
			return ErrPayloadTooLarge
		}
		// 解压结果为独立内存，直接切片即可
		off := len(pre) - r.Len()
		msg := pre[off : off+int(ln)]
		if _, err := r.Seek(int64(ln), io.SeekCurrent); err != nil {
			return err
		}
		if err := onMessage(api, msg); err != nil {
			return err
		}
	}
	return nil
}
