package protocol

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/legamerdc/nio"
	"github.com/legamerdc/nio/buffer"
)

var ErrClosed = errors.New("protocol: connection closed")

// Handler 为业务回调，全部在连接所属 shard 的 goroutine 上调用，不得阻塞；
// 耗时逻辑用 Conn.Go 分流。
type Handler interface {
	OnOpen(c *Conn)
	// msg 可能引用输入缓冲，回调返回后失效
	OnMessage(c *Conn, api uint16, msg []byte)
	OnClose(c *Conn, err error)
}

// Options 为帧协议参数
type Options struct {
	MaxPayload  int           `yaml:"max_payload"`  // 单条消息最大负载
	MaxPending  int           `yaml:"max_pending"`  // 待发送字节达到该值时抑制读
	BatchWindow time.Duration `yaml:"batch_window"` // 延迟聚合窗口，0 表示立即发送
	BatchMsgs   int           `yaml:"batch_msgs"`   // 批量阈值条目，<=1 关闭批量帧
	BatchBytes  int           `yaml:"batch_bytes"`  // 批量阈值字节
	Compress    bool          `yaml:"compress"`     // 单帧是否 zstd 压缩
}

// DefaultOptions 提供一组可工作的默认值
func DefaultOptions() Options {
	return Options{
		MaxPayload: 16 << 20, // 16 MiB
		MaxPending: 1 << 20,  // 1 MiB
		BatchMsgs:  16,
		BatchBytes: 32 << 10, // 32 KiB
	}
}

func (o Options) normalize() Options {
	d := DefaultOptions()
	if o.MaxPayload <= 0 {
		o.MaxPayload = d.MaxPayload
	}
	if o.MaxPending <= 0 {
		o.MaxPending = d.MaxPending
	}
	if o.BatchMsgs == 0 {
		o.BatchMsgs = d.BatchMsgs
	}
	if o.BatchBytes <= 0 {
		o.BatchBytes = d.BatchBytes
	}
	// 批量帧解压后的大小受对端 MaxPayload 约束
	o.BatchBytes = min(o.BatchBytes, o.MaxPayload)
	return o
}

// Conn 为业务侧看到的连接句柄
type Conn struct {
	s *frameStage

	// Data 供业务保存连接上下文，只在 shard goroutine 上访问
	Data any
}

func (c *Conn) Connection() *nio.Connection { return c.s.p.Connection() }

// Write 可在任意 goroutine 调用：消息进入待发送队列，由 shard 在可写时编码写出
func (c *Conn) Write(api uint16, msg []byte) error {
	return c.s.enqueue(api, msg)
}

// Go 在独立 goroutine 上执行任务，连接关闭时 ctx 取消；任务出错则关闭连接
func (c *Conn) Go(task func(ctx context.Context) error) {
	s := c.s
	go func() {
		if err := task(s.ctx); err != nil {
			s.p.Log("task failed: %v", err)
			// 先记录错误再关闭，OnClose 才能看到它
			s.p.Queue(func() {
				if s.err == nil {
					s.err = err
				}
				s.p.Close()
			})
		}
	}()
}

// Close 可在任意 goroutine 调用
func (c *Conn) Close() { c.s.p.Close() }

// frameStage 在输入缓冲上解析帧，把待发送消息编码进输出缓冲
type frameStage struct {
	p       nio.Pipeline
	in, out *buffer.Buffer
	h       Handler
	opts    Options
	prs     *Parser
	enc     *Encoder
	conn    Conn
	ctx     context.Context
	cancel  context.CancelFunc

	mu        sync.Mutex
	pending   []BatchItem
	pendBytes int
	scheduled bool
	timer     *time.Timer
	closed    bool

	// 以下仅 shard goroutine 访问
	cur       []byte // 正在写入输出缓冲的帧剩余部分
	throttled bool
	err       error
}

// NewFrameStage 构造帧协议 Stage 并回调 OnOpen
func NewFrameStage(p nio.Pipeline, in, out *buffer.Buffer, h Handler, opts Options) nio.Stage {
	opts = opts.normalize()
	s := &frameStage{
		p:    p,
		in:   in,
		out:  out,
		h:    h,
		opts: opts,
		prs:  NewParser(opts.MaxPayload, in.Cap()),
		enc:  NewEncoder(),
	}
	s.conn.s = s
	s.ctx, s.cancel = context.WithCancel(context.Background())
	h.OnOpen(&s.conn)
	return s
}

func (s *frameStage) Read() error {
	consumed, err := s.prs.Parse(s.in.Readable(), s.onMessage)
	s.in.Consume(consumed)
	if err != nil {
		s.err = err
		return err
	}
	if !s.throttled && s.backlog() >= s.opts.MaxPending {
		s.p.Log("Throttle reads (%d pending)", s.backlog())
		s.throttled = true
		s.p.SuppressReads()
	}
	return nil
}

func (s *frameStage) onMessage(api uint16, msg []byte) error {
	s.h.OnMessage(&s.conn, api, msg)
	return nil
}

func (s *frameStage) Write() error {
	for {
		if len(s.cur) == 0 {
			frame, err := s.next()
			if err != nil {
				s.err = err
				return err
			}
			if frame == nil {
				break
			}
			s.cur = frame
		}
		n, _ := s.out.Write(s.cur)
		s.cur = s.cur[n:]
		if len(s.cur) > 0 {
			break
		}
	}
	if s.throttled && s.backlog() < s.opts.MaxPending/2 {
		s.throttled = false
		s.p.EncourageReads()
		// socket 可能不会再有读事件，先处理已缓冲的输入
		return s.Read()
	}
	return nil
}

func (s *frameStage) Close() {
	s.mu.Lock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.pending = nil
	s.pendBytes = 0
	s.mu.Unlock()
	s.cancel()
	s.h.OnClose(&s.conn, s.err)
}

func (s *frameStage) backlog() int {
	s.mu.Lock()
	n := s.pendBytes
	s.mu.Unlock()
	return n + len(s.cur)
}

func (s *frameStage) enqueue(api uint16, msg []byte) error {
	if len(msg) > s.opts.MaxPayload {
		return ErrPayloadTooLarge
	}
	payload := append([]byte(nil), msg...)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.pending = append(s.pending, BatchItem{Api: api, Payload: payload})
	s.pendBytes += len(payload)

	full := len(s.pending) >= s.opts.BatchMsgs || s.pendBytes >= s.opts.BatchBytes
	switch {
	case !s.scheduled && s.opts.BatchWindow > 0 && !full:
		s.scheduled = true
		s.timer = time.AfterFunc(s.opts.BatchWindow, s.post)
	case !s.scheduled:
		s.scheduled = true
		s.post()
	case full && s.timer != nil:
		// 达到阈值，不再等待窗口
		if s.timer.Stop() {
			s.post()
		}
		s.timer = nil
	}
	return nil
}

// post 把 flush 投递到 shard
func (s *frameStage) post() { s.p.Queue(s.flush) }

func (s *frameStage) flush() {
	s.mu.Lock()
	s.scheduled = false
	s.timer = nil
	closed := s.closed
	s.mu.Unlock()
	if !closed {
		s.p.EncourageWrites()
	}
}

// next 取出下一帧：多条待发送且开启批量时编码为批量帧
func (s *frameStage) next() ([]byte, error) {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return nil, nil
	}
	// 至少取一条；批量时累计负载不超过 BatchBytes
	k, size := 1, len(s.pending[0].Payload)
	for s.opts.BatchMsgs > 1 && k < min(len(s.pending), s.opts.BatchMsgs) {
		if size+len(s.pending[k].Payload) > s.opts.BatchBytes {
			break
		}
		size += len(s.pending[k].Payload)
		k++
	}
	items := make([]BatchItem, k)
	copy(items, s.pending)
	s.pending = s.pending[k:]
	for _, it := range items {
		s.pendBytes -= len(it.Payload)
	}
	s.mu.Unlock()

	if len(items) > 1 {
		return s.enc.EncodeBatch(items)
	}
	return s.enc.EncodeSingle(items[0].Api, items[0].Payload, s.opts.Compress)
}
