//go:build linux || darwin

package nio

import (
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/legamerdc/nio/internal/netutil"
	"github.com/legamerdc/nio/poller"
)

// serverSocketHandler 为一个监听 socket，固定在一个 shard 上；
// 接受的连接按轮转交给任意 shard，以此分摊入站负载
type serverSocketHandler struct {
	q       *selectorQueue
	fd      int
	port    int
	handler ServerHandler
	closed  bool
}

func newServerSocketHandler(q *selectorQueue, fd, port int, h ServerHandler) *serverSocketHandler {
	return &serverSocketHandler{q: q, fd: fd, port: port, handler: h}
}

// handleEvent 每次就绪只接受一条，剩余的由下一轮水平触发事件处理
func (s *serverSocketHandler) handleEvent(ev poller.Event) {
	if !ev.Readable || s.closed {
		return
	}
	fd, remote, err := netutil.Accept(s.fd)
	if err != nil {
		if err == unix.EAGAIN || err == unix.ECONNABORTED {
			return
		}
		s.q.log.Warn("accept failed", zap.Int("port", s.port), zap.Error(err))
		s.q.engine.listener.NotifyInternalError(nil, fmt.Errorf("nio: accept on port %d: %w", s.port, err))
		return
	}
	e := s.q.engine
	e.accepted.Add(1)
	local, err := netutil.LocalAddr(fd)
	if err == nil {
		err = netutil.ConfigureAccepted(fd)
	}
	if err != nil {
		s.q.discard(fd)
		e.listener.NotifyInternalError(nil, fmt.Errorf("nio: configure accepted socket: %w", err))
		return
	}
	c := NewConnection(local, remote, s.handler.UsesTLS())
	e.nextQueue().attach(c, fd, s.handler)
}

// close 在 shard 关闭时调用，恰好一次
func (s *serverSocketHandler) close() {
	if s.closed {
		return
	}
	s.closed = true
	s.q.cancel(s.fd, s)
	if err := netutil.Close(s.fd); err != nil {
		s.q.log.Debug("close listener", zap.Int("port", s.port), zap.Error(err))
	}
	s.q.log.Info("listener closed", zap.Int("port", s.port))
}
