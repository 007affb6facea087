//go:build linux || darwin

package netutil

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestListenAcceptAddrs(t *testing.T) {
	lfd, port, err := Listen(net.IPv4(127, 0, 0, 1), 0, 16)
	require.NoError(t, err)
	defer Close(lfd)
	require.NotZero(t, port)

	nc, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	defer nc.Close()

	var fd int
	var remote *net.TCPAddr
	deadline := time.Now().Add(2 * time.Second)
	for {
		fd, remote, err = Accept(lfd)
		if err == unix.EAGAIN && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
			continue
		}
		break
	}
	require.NoError(t, err)
	defer Close(fd)
	require.NoError(t, ConfigureAccepted(fd))

	local, err := LocalAddr(fd)
	require.NoError(t, err)
	peer, err := RemoteAddr(fd)
	require.NoError(t, err)

	assert.Equal(t, nc.LocalAddr().String(), remote.String())
	assert.Equal(t, nc.LocalAddr().String(), peer.String())
	assert.Equal(t, nc.RemoteAddr().String(), local.String())

	v, err := unix.GetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY)
	require.NoError(t, err)
	assert.NotZero(t, v)
	v, err = unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE)
	require.NoError(t, err)
	assert.NotZero(t, v)
}

func TestListenSocketNonblocking(t *testing.T) {
	lfd, _, err := Listen(net.IPv4(127, 0, 0, 1), 0, 16)
	require.NoError(t, err)
	defer Close(lfd)

	flags, err := unix.FcntlInt(uintptr(lfd), unix.F_GETFL, 0)
	require.NoError(t, err)
	assert.NotZero(t, flags&unix.O_NONBLOCK)

	require.NoError(t, SetNonblock(lfd, false))
	flags, err = unix.FcntlInt(uintptr(lfd), unix.F_GETFL, 0)
	require.NoError(t, err)
	assert.Zero(t, flags&unix.O_NONBLOCK)
}

func TestListenAcceptEmpty(t *testing.T) {
	lfd, _, err := Listen(nil, 0, 0)
	require.NoError(t, err)
	defer Close(lfd)
	_, _, err = Accept(lfd)
	assert.ErrorIs(t, err, unix.EAGAIN)
}

func TestListenAddrInUse(t *testing.T) {
	lfd, port, err := Listen(net.IPv4(127, 0, 0, 1), 0, 16)
	require.NoError(t, err)
	defer Close(lfd)
	_, _, err = Listen(net.IPv4(127, 0, 0, 1), port, 16)
	assert.Error(t, err)
}
