//go:build linux || darwin

package poller

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func socketPair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	for _, fd := range fds {
		require.NoError(t, unix.SetNonblock(fd, true))
	}
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func newPoller(t *testing.T) Poller {
	t.Helper()
	p, err := New()
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func TestWaitReadable(t *testing.T) {
	p := newPoller(t)
	a, b := socketPair(t)
	require.NoError(t, p.Register(a, true, false))

	_, err := unix.Write(b, []byte("x"))
	require.NoError(t, err)

	events := make([]Event, 8)
	n, err := p.Wait(events)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, a, events[0].FD)
	assert.True(t, events[0].Readable)
	assert.False(t, events[0].Writable)

	// 水平触发：未读走的数据会再次就绪
	n, err = p.Wait(events)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.True(t, events[0].Readable)
}

func TestModTogglesWritable(t *testing.T) {
	p := newPoller(t)
	a, _ := socketPair(t)
	require.NoError(t, p.Register(a, false, true))

	events := make([]Event, 8)
	n, err := p.Wait(events)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.True(t, events[0].Writable)

	require.NoError(t, p.Mod(a, false, false))
	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = p.Wake()
	}()
	n, err = p.Wait(events)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestWakeUnblocksWait(t *testing.T) {
	p := newPoller(t)
	done := make(chan int, 1)
	go func() {
		n, _ := p.Wait(make([]Event, 4))
		done <- n
	}()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, p.Wake())
	select {
	case n := <-done:
		assert.Equal(t, 0, n)
	case <-time.After(2 * time.Second):
		t.Fatal("wait not woken")
	}
}

func TestUnregister(t *testing.T) {
	p := newPoller(t)
	a, b := socketPair(t)
	require.NoError(t, p.Register(a, true, false))
	require.NoError(t, p.Unregister(a))
	_, err := unix.Write(b, []byte("x"))
	require.NoError(t, err)
	require.NoError(t, p.Wake())

	n, err := p.Wait(make([]Event, 4))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
