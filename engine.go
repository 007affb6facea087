//go:build linux || darwin

package nio

import (
	"fmt"
	"net"
	"sync/atomic"

	"go.uber.org/zap"
)

// Engine 持有固定数量的 shard，轮转分配 listen 与新连接
type Engine struct {
	cfg      Config
	listener Listener
	log      *zap.Logger
	trace    traceSink

	queues []*selectorQueue
	index  atomic.Int32 // 允许回绕为负数

	accepted atomic.Int64
	closed   atomic.Int64
	shut     atomic.Bool
}

// NewEngine 创建并启动全部 shard
func NewEngine(cfg Config, l Listener) (*Engine, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if l == nil {
		l = NopListener
	}
	e := &Engine{
		cfg:      cfg,
		listener: l,
		log:      cfg.Logger.Named("nio"),
	}
	sink, err := newTraceSink(&cfg)
	if err != nil {
		return nil, err
	}
	e.trace = sink
	for i := 0; i < cfg.Shards; i++ {
		q, err := newSelectorQueue(i, e)
		if err != nil {
			for _, started := range e.queues {
				_ = started.shutdownAndWait()
			}
			if e.trace != nil {
				_ = e.trace.close()
			}
			return nil, fmt.Errorf("nio: start shard %d: %w", i, err)
		}
		e.queues = append(e.queues, q)
	}
	e.log.Info("engine started", zap.Int("shards", cfg.Shards))
	return e, nil
}

// ListenAll 在通配地址上监听
func (e *Engine) ListenAll(port int, h ServerHandler) error {
	return e.listen(nil, port, h)
}

// ListenLocalhost 在回环地址上监听
func (e *Engine) ListenLocalhost(port int, h ServerHandler) error {
	return e.listen(net.IPv4(127, 0, 0, 1), port, h)
}

func (e *Engine) listen(ip net.IP, port int, h ServerHandler) error {
	if h == nil || port < 0 || port > 0xFFFF {
		return ErrInvalidArgument
	}
	if e.shut.Load() {
		return ErrShutdown
	}
	return e.nextQueue().listen(ip, port, h)
}

// Shutdown 依次关闭每个 shard（每次都阻塞到 drain 完成），然后通知 Listener。
// 重复调用返回 ErrShutdown。
func (e *Engine) Shutdown() error {
	if !e.shut.CompareAndSwap(false, true) {
		return ErrShutdown
	}
	for _, q := range e.queues {
		if err := q.shutdownAndWait(); err != nil {
			e.log.Warn("shard shutdown", zap.Int("shard", q.id), zap.Error(err))
		}
	}
	e.listener.Shutdown()
	e.log.Info("engine stopped", zap.Int("open", e.OpenConnections()))
	if e.trace != nil {
		if err := e.trace.close(); err != nil {
			e.log.Warn("close trace", zap.Error(err))
		}
	}
	_ = e.log.Sync()
	return nil
}

// OpenConnections 为 accepted - closed，并发下是近似值，静止后精确
func (e *Engine) OpenConnections() int {
	// 先读 closed：closed(t1) <= accepted(t1) <= accepted(t2)
	closed := e.closed.Load()
	open := e.accepted.Load() - closed
	if open < 0 {
		return 0
	}
	return int(open)
}

func (e *Engine) nextQueue() *selectorQueue {
	return e.queues[shardIndex(e.index.Add(1)-1, len(e.queues))]
}

// shardIndex 为非负取模，计数器回绕为负数后仍落在 [0, n)
func shardIndex(counter int32, n int) int {
	m := int64(n)
	return int((int64(counter)%m + m) % m)
}
