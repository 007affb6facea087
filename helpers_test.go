//go:build linux || darwin

package nio

import (
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/eapache/queue"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/legamerdc/nio/buffer"
	"github.com/legamerdc/nio/poller"
)

type interestOp struct {
	fd                 int
	readable, writable bool
}

// fakePoller 记录兴趣变更，不做真实多路复用
type fakePoller struct {
	mu           sync.Mutex
	registered   []interestOp
	mods         []interestOp
	unregistered []int
	wakes        int
}

func (p *fakePoller) Register(fd poller.FD, r, w bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.registered = append(p.registered, interestOp{fd, r, w})
	return nil
}

func (p *fakePoller) Mod(fd poller.FD, r, w bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mods = append(p.mods, interestOp{fd, r, w})
	return nil
}

func (p *fakePoller) Unregister(fd poller.FD) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unregistered = append(p.unregistered, fd)
	return nil
}

func (p *fakePoller) Wait([]poller.Event) (int, error) { return 0, errors.New("fake poller") }

func (p *fakePoller) Wake() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.wakes++
	return nil
}

func (p *fakePoller) Close() error { return nil }

func (p *fakePoller) modCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.mods)
}

type internalError struct {
	conn *Connection
	err  error
}

// recordingListener 记录引擎通知
type recordingListener struct {
	mu        sync.Mutex
	ports     chan int
	errs      []internalError
	shutdowns int
}

func newRecordingListener() *recordingListener {
	return &recordingListener{ports: make(chan int, 16)}
}

func (l *recordingListener) PortOpened(port int, tls bool) { l.ports <- port }

func (l *recordingListener) NotifyInternalError(c *Connection, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, internalError{c, err})
}

func (l *recordingListener) Shutdown() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.shutdowns++
}

func (l *recordingListener) errors() []internalError {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]internalError(nil), l.errs...)
}

func (l *recordingListener) shutdownCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.shutdowns
}

// fakeStage 统计调用次数，行为由回调决定
type fakeStage struct {
	in, out *buffer.Buffer
	p       Pipeline
	reads   int
	writes  int
	closes  int
	onRead  func(s *fakeStage) error
	onWrite func(s *fakeStage) error
}

func (s *fakeStage) Read() error {
	s.reads++
	if s.onRead != nil {
		return s.onRead(s)
	}
	return nil
}

func (s *fakeStage) Write() error {
	s.writes++
	if s.onWrite != nil {
		return s.onWrite(s)
	}
	return nil
}

func (s *fakeStage) Close() { s.closes++ }

// newTestQueue 构造不启动 goroutine 的 shard，测试直接驱动 handleEvent/runActions
func newTestQueue(t *testing.T, cfg Config, l Listener) (*selectorQueue, *fakePoller) {
	t.Helper()
	require.NoError(t, cfg.normalize())
	e := &Engine{cfg: cfg, listener: l, log: zap.NewNop()}
	fp := &fakePoller{}
	q := &selectorQueue{
		engine:   e,
		poller:   fp,
		log:      zap.NewNop(),
		actions:  queue.New(),
		handlers: make(map[int]eventHandler),
		done:     make(chan struct{}),
	}
	e.queues = []*selectorQueue{q}
	return q, fp
}

// attachPair 用 socketpair 的一端构造 socketHandler，返回对端 fd
func attachPair(t *testing.T, q *selectorQueue, st *fakeStage) (*socketHandler, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	require.NoError(t, unix.SetNonblock(fds[0], true))
	t.Cleanup(func() { unix.Close(fds[1]) })

	c := NewConnection(&net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1}, &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 2}, false)
	q.engine.accepted.Add(1)
	sh := newSocketHandler(q, c, fds[0])
	st.in, st.out, st.p = sh.in, sh.out, sh
	sh.stage = st
	q.handlers[fds[0]] = sh
	t.Cleanup(func() {
		if !sh.cleaned {
			unix.Close(fds[0])
		}
	})
	return sh, fds[1]
}
