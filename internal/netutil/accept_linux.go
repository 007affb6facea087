//go:build linux

package netutil

import (
	"net"

	"golang.org/x/sys/unix"
)

// Accept 接受一条连接，返回非阻塞 fd 与对端地址。
// 无待处理连接时返回 unix.EAGAIN。
func Accept(lfd int) (int, *net.TCPAddr, error) {
	for {
		fd, sa, err := unix.Accept4(lfd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return -1, nil, err
		}
		return fd, SockaddrToTCP(sa), nil
	}
}
