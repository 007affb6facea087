//go:build darwin

package poller

import (
	"golang.org/x/sys/unix"
)

type kqueuePoller struct {
	kq     int
	wfd    int // 写端，用于唤醒
	rfd    int // 读端，注册到 kqueue
	events []unix.Kevent_t
	index  map[int]int // fd -> out 下标，合并同一 fd 的读写过滤器
}

func New() (Poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	// 使用管道作为唤醒
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		unix.Close(kq)
		return nil, err
	}
	rfd, wfd := p[0], p[1]
	_ = unix.SetNonblock(rfd, true)
	_ = unix.SetNonblock(wfd, true)
	unix.CloseOnExec(rfd)
	unix.CloseOnExec(wfd)
	kev := unix.Kevent_t{
		Ident:  uint64(rfd),
		Filter: unix.EVFILT_READ,
		Flags:  unix.EV_ADD | unix.EV_CLEAR,
	}
	_, err = unix.Kevent(kq, []unix.Kevent_t{kev}, nil, nil)
	if err != nil {
		unix.Close(rfd)
		unix.Close(wfd)
		unix.Close(kq)
		return nil, err
	}
	return &kqueuePoller{kq: kq, wfd: wfd, rfd: rfd, index: make(map[int]int)}, nil
}

// 读写过滤器始终同时存在，通过 EV_ENABLE/EV_DISABLE 切换，避免删除不存在的过滤器报错
func changes(fd FD, readable, writable bool) []unix.Kevent_t {
	flag := func(on bool) uint16 {
		if on {
			return unix.EV_ADD | unix.EV_ENABLE
		}
		return unix.EV_ADD | unix.EV_DISABLE
	}
	return []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: flag(readable)},
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: flag(writable)},
	}
}

func (p *kqueuePoller) Register(fd FD, readable, writable bool) error {
	_, err := unix.Kevent(p.kq, changes(fd, readable, writable), nil, nil)
	return err
}

func (p *kqueuePoller) Mod(fd FD, readable, writable bool) error {
	_, err := unix.Kevent(p.kq, changes(fd, readable, writable), nil, nil)
	return err
}

func (p *kqueuePoller) Unregister(fd FD) error {
	ch := []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE},
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE},
	}
	_, err := unix.Kevent(p.kq, ch, nil, nil)
	return err
}

func (p *kqueuePoller) Wake() error {
	var b [1]byte
	b[0] = 1
	_, err := unix.Write(p.wfd, b[:])
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

func (p *kqueuePoller) Close() error {
	unix.Close(p.rfd)
	unix.Close(p.wfd)
	return unix.Close(p.kq)
}

func (p *kqueuePoller) Wait(out []Event) (int, error) {
	if len(p.events) < len(out) {
		p.events = make([]unix.Kevent_t, len(out))
	}
	n, err := unix.Kevent(p.kq, nil, p.events[:len(out)], nil)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	clear(p.index)
	var buf [16]byte
	k := 0
	for i := 0; i < n; i++ {
		ev := p.events[i]
		fd := int(ev.Ident)
		if fd == p.rfd {
			for {
				_, rerr := unix.Read(p.rfd, buf[:])
				if rerr == unix.EAGAIN {
					break
				}
				if rerr != nil {
					return 0, rerr
				}
			}
			continue
		}
		j, ok := p.index[fd]
		if !ok {
			j = k
			p.index[fd] = j
			out[j] = Event{FD: fd}
			k++
		}
		if ev.Flags&unix.EV_ERROR != 0 {
			out[j].Readable, out[j].Writable, out[j].Hangup = true, true, true
			continue
		}
		switch ev.Filter {
		case unix.EVFILT_READ:
			// EV_EOF 时 read 返回 0，交给上层按 EOF 处理
			out[j].Readable = true
		case unix.EVFILT_WRITE:
			out[j].Writable = true
			if ev.Flags&unix.EV_EOF != 0 {
				out[j].Hangup = true
			}
		}
	}
	return k, nil
}
