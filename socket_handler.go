//go:build linux || darwin

package nio

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/legamerdc/nio/buffer"
	"github.com/legamerdc/nio/poller"
)

// socketHandler 驱动一条连接：持有输入/输出缓冲与读写兴趣，并实现 Pipeline
type socketHandler struct {
	q     *selectorQueue
	conn  *Connection
	fd    int
	in    *buffer.Buffer
	out   *buffer.Buffer
	stage Stage

	reading bool
	writing bool
	closed  atomic.Bool
	cleaned bool
}

func newSocketHandler(q *selectorQueue, c *Connection, fd int) *socketHandler {
	return &socketHandler{
		q:       q,
		conn:    c,
		fd:      fd,
		in:      buffer.New(q.engine.cfg.InputBufferSize),
		out:     buffer.New(q.engine.cfg.OutputBufferSize),
		reading: true,
	}
}

func (h *socketHandler) Connection() *Connection { return h.conn }

func (h *socketHandler) updateSelector() {
	if h.closed.Load() {
		return
	}
	if err := h.q.poller.Mod(h.fd, h.reading, h.writing); err != nil {
		h.fault(fmt.Errorf("nio: update interest: %w", err))
	}
}

func (h *socketHandler) SuppressWrites() {
	if !h.writing || h.closed.Load() {
		return
	}
	h.writing = false
	h.updateSelector()
}

func (h *socketHandler) EncourageWrites() {
	if h.writing || h.closed.Load() {
		return
	}
	h.writing = true
	h.updateSelector()
}

func (h *socketHandler) SuppressReads() {
	if !h.reading || h.closed.Load() {
		return
	}
	h.reading = false
	h.updateSelector()
}

func (h *socketHandler) EncourageReads() {
	if h.reading || h.closed.Load() {
		return
	}
	h.reading = true
	h.updateSelector()
}

// Close 只置位；拆除在所属 shard 上处理本连接时进行
func (h *socketHandler) Close() {
	if h.closed.CompareAndSwap(false, true) {
		h.q.queue(h.closeIfNeeded)
	}
}

func (h *socketHandler) closeIfNeeded() {
	if h.closed.Load() {
		h.cleanup()
	}
}

func (h *socketHandler) Queue(action func()) { h.q.queue(action) }

func (h *socketHandler) Log(format string, args ...any) {
	t := h.q.engine.trace
	if t == nil {
		return
	}
	t.log(formatTrace(h.conn, h.conn.Elapsed(), format, args...))
}

func (h *socketHandler) fault(err error) {
	if h.closed.Load() {
		return
	}
	h.q.engine.listener.NotifyInternalError(h.conn, err)
	h.Close()
}

func (h *socketHandler) handleEvent(ev poller.Event) {
	readable := ev.Readable && h.reading
	writable := ev.Writable && h.writing
	if ev.Hangup && !readable && !writable {
		// 两个方向都未关注时水平触发的 HUP 会持续上报
		h.Log("Hang up")
		h.Close()
	}
	if readable && !h.closed.Load() {
		h.onReadable()
	}
	if writable && !h.closed.Load() {
		h.onWritable()
	}
	if h.closed.Load() {
		h.cleanup()
	}
}

func (h *socketHandler) onReadable() {
	h.in.Compact()
	// 缓冲已满时不读：零长度 read 返回 0 会被误判为 EOF
	if free := h.in.Writable(); len(free) > 0 {
		n, err := unix.Read(h.fd, free)
		switch {
		case err == unix.EAGAIN || err == unix.EINTR:
			n = 0
		case err != nil:
			h.fault(fmt.Errorf("nio: read: %w", err))
			return
		case n == 0:
			h.Log("Input closed")
			h.Close()
			return
		}
		h.in.Produce(n)
		h.Log("Read %d bytes (%d buffered)", n, h.in.Len())
	}
	// 即使没有新数据也调用，Stage 可能需要继续解析缓冲中的剩余部分
	if err := h.stage.Read(); err != nil {
		h.fault(err)
	}
}

func (h *socketHandler) onWritable() {
	// 先让上层有机会产出数据
	if err := h.stage.Write(); err != nil {
		h.fault(err)
		return
	}
	if h.out.Len() == 0 {
		h.SuppressWrites()
		return
	}
	n, err := unix.Write(h.fd, h.out.Readable())
	if err != nil && err != unix.EAGAIN && err != unix.EINTR {
		h.fault(fmt.Errorf("nio: write: %w", err))
		return
	}
	if n > 0 {
		h.out.Consume(n)
		h.Log("Wrote %d bytes", n)
	}
	if h.out.Len() > 0 {
		h.out.Compact()
	}
}

// cleanup 恰好执行一次：释放 Stage、注销、关闭 fd
func (h *socketHandler) cleanup() {
	if h.cleaned {
		return
	}
	h.cleaned = true
	h.stage.Close()
	h.q.engine.closed.Add(1)
	h.Log("Close")
	h.q.cancel(h.fd, h)
	if err := unix.Close(h.fd); err != nil {
		h.q.engine.listener.NotifyInternalError(h.conn, fmt.Errorf("nio: close: %w", err))
	}
}
