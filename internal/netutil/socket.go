//go:build linux || darwin

package netutil

import (
	"net"

	"golang.org/x/sys/unix"
)

func SetNonblock(fd int, nonblock bool) error {
	return unix.SetNonblock(fd, nonblock)
}

func SetReuseAddr(fd int, enable bool) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, boolInt(enable))
}

func SetNoDelay(fd int, enable bool) error {
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, boolInt(enable))
}

func SetKeepAlive(fd int, enable bool) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, boolInt(enable))
}

// SetLinger 设置 SO_LINGER；sec < 0 表示关闭 linger（close 立即返回，内核后台发送）。
func SetLinger(fd int, sec int) error {
	l := &unix.Linger{}
	if sec >= 0 {
		l.Onoff = 1
		l.Linger = int32(sec)
	}
	return unix.SetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER, l)
}

// ConfigureAccepted 为新接受的连接设置 nodelay/keepalive/linger。
func ConfigureAccepted(fd int) error {
	if err := SetNoDelay(fd, true); err != nil {
		return err
	}
	if err := SetKeepAlive(fd, true); err != nil {
		return err
	}
	return SetLinger(fd, -1)
}

// LocalAddr 返回 fd 的本端地址。
func LocalAddr(fd int) (*net.TCPAddr, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return nil, err
	}
	return SockaddrToTCP(sa), nil
}

// RemoteAddr 返回 fd 的对端地址。
func RemoteAddr(fd int) (*net.TCPAddr, error) {
	sa, err := unix.Getpeername(fd)
	if err != nil {
		return nil, err
	}
	return SockaddrToTCP(sa), nil
}

func SockaddrToTCP(sa unix.Sockaddr) *net.TCPAddr {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		ip := make(net.IP, net.IPv4len)
		copy(ip, v.Addr[:])
		return &net.TCPAddr{IP: ip, Port: v.Port}
	case *unix.SockaddrInet6:
		ip := make(net.IP, net.IPv6len)
		copy(ip, v.Addr[:])
		var zone string
		if v.ZoneId != 0 {
			if ifi, err := net.InterfaceByIndex(int(v.ZoneId)); err == nil {
				zone = ifi.Name
			}
		}
		return &net.TCPAddr{IP: ip, Port: v.Port, Zone: zone}
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
