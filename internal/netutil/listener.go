//go:build linux || darwin

package netutil

import (
	"net"

	"golang.org/x/sys/unix"
)

// Listen 创建非阻塞监听 socket。ip 为 nil 时绑定 IPv4 通配地址。
// 返回监听 fd 以及实际绑定的端口（port 为 0 时由内核分配）。
func Listen(ip net.IP, port, backlog int) (fd int, bound int, err error) {
	fam := unix.AF_INET
	var sa unix.Sockaddr
	if ip4 := ip.To4(); ip == nil || ip4 != nil {
		var sa4 unix.SockaddrInet4
		if ip4 != nil {
			copy(sa4.Addr[:], ip4)
		}
		sa4.Port = port
		sa = &sa4
	} else {
		fam = unix.AF_INET6
		var sa6 unix.SockaddrInet6
		copy(sa6.Addr[:], ip.To16())
		sa6.Port = port
		sa = &sa6
	}
	fd, err = unix.Socket(fam, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, 0, err
	}
	unix.CloseOnExec(fd)
	_ = SetReuseAddr(fd, true)
	if err := SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, 0, err
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, 0, err
	}
	if backlog <= 0 {
		backlog = unix.SOMAXCONN
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return -1, 0, err
	}
	addr, err := LocalAddr(fd)
	if err != nil {
		unix.Close(fd)
		return -1, 0, err
	}
	return fd, addr.Port, nil
}

func Close(fd int) error { return unix.Close(fd) }
