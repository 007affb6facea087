package protocol

import (
	"encoding/binary"
	"errors"
)

// LenFlags 头部编码：
// 短头（2B，BE）：
//   bit15: Compressed
//   bit14: Batched (隐含 Compressed=1)
//   bit13: Ext=0 (短头)
//   bit12..0: Len13 (0..8191)
// 长头（4B，BE）：
//   bit31: Compressed
//   bit30: Batched (隐含 Compressed=1)
//   bit29: Ext=1 (长头)
//   bit28..0: Len29 (0..(1<<29)-1)
// 非批量帧在头部之后紧跟 2B api。

const (
	shortHeadMaxLen = (1 << 13) - 1 // 8191
	longHeadMaxLen  = (1 << 29) - 1

	apiLen = 2
)

var (
	errHeaderTooShort   = errors.New("protocol: header too short")
	errLengthOutOfRange = errors.New("protocol: length out of range")
)

// AppendLenFlags 追加 2 或 4 字节头部。
func AppendLenFlags(dst []byte, length int, compressed, batched bool) ([]byte, error) {
	if length < 0 || length > longHeadMaxLen {
		return dst, errLengthOutOfRange
	}
	if batched {
		compressed = true // 规则：Batched 隐含 Compressed
	}
	if length <= shortHeadMaxLen {
		var v uint16
		if compressed {
			v |= 1 << 15
		}
		if batched {
			v |= 1 << 14
		}
		v |= uint16(length) & 0x1FFF
		return binary.BigEndian.AppendUint16(dst, v), nil
	}
	var v uint32 = 1 << 29 // Ext=1
	if compressed {
		v |= 1 << 31
	}
	if batched {
		v |= 1 << 30
	}
	v |= uint32(length) & 0x1FFFFFFF
	return binary.BigEndian.AppendUint32(dst, v), nil
}

// headerLen 返回编码 length 所需的头部字节数。
func headerLen(length int) int {
	if length <= shortHeadMaxLen {
		return 2
	}
	return 4
}

// DecodeLenFlags 解码头部，返回：已消费字节数、长度、compressed、batched。
func DecodeLenFlags(b []byte) (consumed int, length int, compressed, batched bool, _ error) {
	if len(b) < 2 {
		return 0, 0, false, false, errHeaderTooShort
	}
	v16 := binary.BigEndian.Uint16(b[:2])
	if (v16>>13)&0x1 == 0 {
		compressed = (v16>>15)&0x1 == 1
		batched = (v16>>14)&0x1 == 1
		length = int(v16 & 0x1FFF)
		return 2, length, compressed, batched, nil
	}
	// 长头
	if len(b) < 4 {
		return 0, 0, false, false, errHeaderTooShort
	}
	v32 := binary.BigEndian.Uint32(b[:4])
	compressed = (v32>>31)&0x1 == 1
	batched = (v32>>30)&0x1 == 1
	length = int(v32 & 0x1FFFFFFF)
	return 4, length, compressed, batched, nil
}

// AppendApi 将 api(uint16, BE) 追加到切片末尾。
func AppendApi(dst []byte, api uint16) []byte {
	return binary.BigEndian.AppendUint16(dst, api)
}
