package nio

import (
	"net"
	"time"

	"github.com/google/uuid"
)

// Connection 为一条已接受连接的不可变元数据，用于日志与统计
type Connection struct {
	id      uuid.UUID
	local   *net.TCPAddr
	remote  *net.TCPAddr
	tls     bool
	started time.Time
}

// NewConnection 在 accept 时构造；started 带单调时钟读数
func NewConnection(local, remote *net.TCPAddr, tls bool) *Connection {
	return &Connection{
		id:      uuid.New(),
		local:   local,
		remote:  remote,
		tls:     tls,
		started: time.Now(),
	}
}

func (c *Connection) ID() uuid.UUID            { return c.id }
func (c *Connection) LocalAddr() *net.TCPAddr  { return c.local }
func (c *Connection) RemoteAddr() *net.TCPAddr { return c.remote }
func (c *Connection) UsesTLS() bool            { return c.tls }
func (c *Connection) StartTime() time.Time     { return c.started }

// Elapsed 返回自 accept 以来的时长
func (c *Connection) Elapsed() time.Duration { return time.Since(c.started) }

func (c *Connection) String() string {
	return c.id.String()[:8] + " " + c.local.String() + "->" + c.remote.String()
}
