//go:build darwin

package netutil

import (
	"net"

	"golang.org/x/sys/unix"
)

// Accept 接受一条连接，返回非阻塞 fd 与对端地址。
// 无待处理连接时返回 unix.EAGAIN。
func Accept(lfd int) (int, *net.TCPAddr, error) {
	for {
		fd, sa, err := unix.Accept(lfd)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return -1, nil, err
		}
		unix.CloseOnExec(fd)
		if err := SetNonblock(fd, true); err != nil {
			unix.Close(fd)
			return -1, nil, err
		}
		// macOS 上写已关闭 socket 默认触发 SIGPIPE
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_NOSIGPIPE, 1)
		return fd, SockaddrToTCP(sa), nil
	}
}
