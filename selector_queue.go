//go:build linux || darwin

package nio

import (
	"fmt"
	"net"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"go.uber.org/zap"

	"github.com/legamerdc/nio/internal/netutil"
	"github.com/legamerdc/nio/poller"
)

// eventHandler 挂在注册表上，每次 Wait 至多被调用一次
type eventHandler interface {
	handleEvent(ev poller.Event)
}

// selectorQueue 为一个 shard：独占一个 poller 与一个 goroutine。
// 注册表、连接状态只由该 goroutine 读写，其他 goroutine 通过 queue 投递任务。
type selectorQueue struct {
	id     int
	engine *Engine
	poller poller.Poller
	log    *zap.Logger

	mu      sync.Mutex
	actions *queue.Queue // func()
	stopped bool

	// 以下仅 shard goroutine 访问
	handlers         map[int]eventHandler
	shutdownHandlers []func()
	events           []poller.Event
	shutdown         bool

	shutdownInitiated atomic.Bool
	done              chan struct{}
}

func newSelectorQueue(id int, e *Engine) (*selectorQueue, error) {
	p, err := poller.New()
	if err != nil {
		return nil, err
	}
	q := &selectorQueue{
		id:       id,
		engine:   e,
		poller:   p,
		log:      e.log.With(zap.Int("shard", id)),
		actions:  queue.New(),
		handlers: make(map[int]eventHandler),
		events:   make([]poller.Event, e.cfg.EventsPerWait),
		done:     make(chan struct{}),
	}
	go q.run()
	return q, nil
}

// queue 追加任务并唤醒 Wait；shard 已停止时返回 false。
func (q *selectorQueue) queue(action func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return false
	}
	q.actions.Add(action)
	// 持锁唤醒：stopped 之前 poller 不会被关闭
	if err := q.poller.Wake(); err != nil {
		q.log.Warn("wake failed", zap.Error(err))
	}
	return true
}

func (q *selectorQueue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.actions.Length()
}

func (q *selectorQueue) pop() (func(), bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.actions.Length() == 0 {
		return nil, false
	}
	return q.actions.Remove().(func()), true
}

// runActions 只执行本次唤醒前已入队的任务，执行中新入队的留到下一轮
func (q *selectorQueue) runActions() {
	for n := q.pending(); n > 0; n-- {
		a, ok := q.pop()
		if !ok {
			return
		}
		a()
	}
}

func (q *selectorQueue) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(q.done)

	q.log.Debug("shard started")
	if err := q.loop(); err != nil {
		q.log.Error("shard wait failed", zap.Error(err))
		q.engine.listener.NotifyInternalError(nil, fmt.Errorf("nio: shard %d: %w", q.id, err))
	}
	q.drain()
	q.log.Debug("shard stopped")
}

func (q *selectorQueue) loop() error {
	for !q.shutdown {
		n, err := q.poller.Wait(q.events)
		if err != nil {
			return err
		}
		q.runActions()
		if q.shutdown {
			break
		}
		for _, ev := range q.events[:n] {
			if h, ok := q.handlers[ev.FD]; ok {
				h.handleEvent(ev)
			}
		}
	}
	return nil
}

// drain 在循环退出后执行：关闭监听 socket，跑完残留任务，关闭剩余连接
func (q *selectorQueue) drain() {
	q.shutdown = true
	q.mu.Lock()
	q.stopped = true
	q.mu.Unlock()

	for _, h := range q.shutdownHandlers {
		h()
	}
	q.shutdownHandlers = nil
	for {
		a, ok := q.pop()
		if !ok {
			break
		}
		a()
	}
	for _, h := range q.handlers {
		if sh, ok := h.(*socketHandler); ok {
			sh.closed.Store(true)
			sh.cleanup()
		}
	}
	if err := q.poller.Close(); err != nil {
		q.log.Warn("close poller", zap.Error(err))
	}
}

// listen 在 shard 上绑定并注册监听 socket，调用方阻塞直到结果返回
func (q *selectorQueue) listen(ip net.IP, port int, h ServerHandler) error {
	if q.shutdownInitiated.Load() {
		return ErrShutdown
	}
	res := make(chan error, 1)
	if !q.queue(func() { res <- q.bind(ip, port, h) }) {
		return ErrShutdown
	}
	select {
	case err := <-res:
		return err
	case <-q.done:
		select {
		case err := <-res:
			return err
		default:
			return ErrShutdown
		}
	}
}

func (q *selectorQueue) bind(ip net.IP, port int, h ServerHandler) error {
	if q.shutdown {
		return ErrShutdown
	}
	host := "*"
	if ip != nil {
		host = ip.String()
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	lfd, bound, err := netutil.Listen(ip, port, q.engine.cfg.Backlog)
	if err != nil {
		return fmt.Errorf("nio: listen %s: %w", addr, err)
	}
	if err := q.poller.Register(lfd, true, false); err != nil {
		_ = netutil.Close(lfd)
		return fmt.Errorf("nio: register listener %s: %w", addr, err)
	}
	ss := newServerSocketHandler(q, lfd, bound, h)
	q.handlers[lfd] = ss
	q.shutdownHandlers = append(q.shutdownHandlers, ss.close)
	q.log.Info("listening", zap.String("host", host), zap.Int("port", bound), zap.Bool("tls", h.UsesTLS()))
	q.engine.listener.PortOpened(bound, h.UsesTLS())
	return nil
}

// attach 把 accept 得到的连接交给本 shard 注册
func (q *selectorQueue) attach(c *Connection, fd int, h ServerHandler) {
	if !q.queue(func() { q.register(c, fd, h) }) {
		q.discard(fd)
	}
}

func (q *selectorQueue) register(c *Connection, fd int, h ServerHandler) {
	if q.shutdown {
		q.discard(fd)
		return
	}
	if err := q.poller.Register(fd, true, false); err != nil {
		q.engine.listener.NotifyInternalError(c, fmt.Errorf("nio: register connection: %w", err))
		q.discard(fd)
		return
	}
	sh := newSocketHandler(q, c, fd)
	stage := h.Connect(sh, sh.in, sh.out)
	if stage == nil {
		q.engine.listener.NotifyInternalError(c, ErrNilStage)
		_ = q.poller.Unregister(fd)
		q.discard(fd)
		return
	}
	sh.stage = stage
	q.handlers[fd] = sh
	sh.Log("New")
}

// discard 关闭未能注册的连接，计入关闭数
func (q *selectorQueue) discard(fd int) {
	_ = netutil.Close(fd)
	q.engine.closed.Add(1)
}

// cancel 从注册表和 poller 中移除 fd，之后不会再有事件进入其 handler
func (q *selectorQueue) cancel(fd int, h eventHandler) {
	if cur, ok := q.handlers[fd]; ok && cur == h {
		delete(q.handlers, fd)
	}
	if err := q.poller.Unregister(fd); err != nil {
		q.log.Debug("unregister", zap.Int("fd", fd), zap.Error(err))
	}
}

// shutdownAndWait 仅允许发起一次；返回时 drain 已完成
func (q *selectorQueue) shutdownAndWait() error {
	if !q.shutdownInitiated.CompareAndSwap(false, true) {
		return ErrShutdown
	}
	q.queue(func() { q.shutdown = true })
	<-q.done
	return nil
}
