//go:build linux

package poller

import (
	"golang.org/x/sys/unix"
)

type epollPoller struct {
	efd    int
	wfd    int // eventfd for wakeup
	events []unix.EpollEvent
}

func New() (Poller, error) {
	efd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	wfd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(efd)
		return nil, err
	}
	p := &epollPoller{efd: efd, wfd: wfd}
	// wakeup fd 保持边缘触发，Wait 中一次读空
	ev := &unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLET, Fd: int32(wfd)}
	if err := unix.EpollCtl(efd, unix.EPOLL_CTL_ADD, wfd, ev); err != nil {
		unix.Close(wfd)
		unix.Close(efd)
		return nil, err
	}
	return p, nil
}

// 业务 fd 使用水平触发：每次事件只做一次 read/write，剩余数据依赖下一轮事件
func interest(readable, writable bool) uint32 {
	var flag uint32
	if readable {
		flag |= unix.EPOLLIN
	}
	if writable {
		flag |= unix.EPOLLOUT
	}
	return flag
}

func (p *epollPoller) Register(fd FD, readable, writable bool) error {
	ev := &unix.EpollEvent{Events: interest(readable, writable), Fd: int32(fd)}
	return unix.EpollCtl(p.efd, unix.EPOLL_CTL_ADD, fd, ev)
}

func (p *epollPoller) Mod(fd FD, readable, writable bool) error {
	ev := &unix.EpollEvent{Events: interest(readable, writable), Fd: int32(fd)}
	return unix.EpollCtl(p.efd, unix.EPOLL_CTL_MOD, fd, ev)
}

func (p *epollPoller) Unregister(fd FD) error {
	return unix.EpollCtl(p.efd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *epollPoller) Wake() error {
	var buf [8]byte
	buf[0] = 1
	_, err := unix.Write(p.wfd, buf[:])
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

func (p *epollPoller) Close() error {
	unix.Close(p.wfd)
	return unix.Close(p.efd)
}

func (p *epollPoller) Wait(out []Event) (int, error) {
	if len(p.events) < len(out) {
		p.events = make([]unix.EpollEvent, len(out))
	}
	n, err := unix.EpollWait(p.efd, p.events[:len(out)], -1)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	var efdBuf [8]byte
	k := 0
	for i := 0; i < n; i++ {
		ev := p.events[i]
		fd := int(ev.Fd)
		if fd == p.wfd {
			// 清空 eventfd
			for {
				_, rerr := unix.Read(p.wfd, efdBuf[:])
				if rerr == unix.EAGAIN {
					break
				}
				if rerr == unix.EINTR {
					continue
				}
				if rerr != nil {
					return 0, rerr
				}
			}
			continue
		}
		hup := ev.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0
		out[k] = Event{
			FD:       fd,
			Readable: hup || ev.Events&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0,
			Writable: hup || ev.Events&unix.EPOLLOUT != 0,
			Hangup:   hup,
		}
		k++
	}
	return k, nil
}
