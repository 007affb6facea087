package nio

import "github.com/legamerdc/nio/buffer"

// 入站：Socket -> 加密 Stage -> 协议 Stage -> 业务
// 出站：Socket <- 加密 Stage <- 协议 Stage <- 业务
// 流控只有一种手段：抑制/恢复读写兴趣。缓冲不扩容。

// Stage 为协议层，由 shard goroutine 调用，不得阻塞。
// Read/Write 返回的错误对连接是致命的；Close 在拆除时恰好调用一次。
type Stage interface {
	Read() error
	Write() error
	Close()
}

// Pipeline 为 Stage 可用的能力面。
// 读写抑制方法只能在所属 shard goroutine 上调用，其他 goroutine 需经 Queue 转交。
type Pipeline interface {
	Connection() *Connection
	SuppressWrites()
	EncourageWrites()
	SuppressReads()
	EncourageReads()
	// Close 可在任意 goroutine 调用，fd 的释放总在所属 shard 上进行
	Close()
	// Queue 追加到所属 shard 的 FIFO 并唤醒其 Wait
	Queue(action func())
	Log(format string, args ...any)
}

// ServerHandler 在 accept 后被调用，为连接构造 Stage 链。
type ServerHandler interface {
	UsesTLS() bool
	Connect(p Pipeline, in, out *buffer.Buffer) Stage
}

// Listener 接收引擎级通知。
type Listener interface {
	PortOpened(port int, tls bool)
	// NotifyInternalError 的 c 为 nil 表示与连接无关（如 shard 的 Wait 失败）
	NotifyInternalError(c *Connection, err error)
	Shutdown()
}

// NopListener 忽略全部通知
var NopListener Listener = nopListener{}

type nopListener struct{}

func (nopListener) PortOpened(int, bool)                   {}
func (nopListener) NotifyInternalError(*Connection, error) {}
func (nopListener) Shutdown()                              {}
