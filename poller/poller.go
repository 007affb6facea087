package poller

import "errors"

// FD 表示文件描述符。
type FD = int

var ErrPlatformNotSupported = errors.New("poller: platform not supported (requires epoll/kqueue)")

// Event 为一次等待中某个 fd 的就绪状态（同一 fd 每次 Wait 至多一条）。
// Hangup 表示对端挂断或套接字出错，此时 Readable/Writable 同时置位。
type Event struct {
	FD       FD
	Readable bool
	Writable bool
	Hangup   bool
}

// Poller 为水平触发的就绪多路复用器。
// Register/Mod/Unregister/Wait 只能在拥有者 goroutine 上调用；Wake 可在任意 goroutine 调用。
type Poller interface {
	Register(fd FD, readable, writable bool) error
	Mod(fd FD, readable, writable bool) error
	Unregister(fd FD) error
	// Wait 阻塞直到有就绪事件或被 Wake 唤醒，填充 events 并返回数量。
	// 被信号打断时返回 0, nil。
	Wait(events []Event) (int, error)
	Wake() error
	Close() error
}
