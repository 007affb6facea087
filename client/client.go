package client

import (
	"errors"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/legamerdc/nio/protocol"
)

type Handler interface {
	OnOpen(c *Client)
	OnMessage(c *Client, api uint16, msg []byte)
	OnClose(c *Client, err error)
}

type Option func(*Client)

// WithCipher 与服务端 protocol.Server.NewCipher 配对使用
func WithCipher(c protocol.Cipher) Option { return func(cl *Client) { cl.cipher = c } }

func WithLogger(l *zap.Logger) Option { return func(cl *Client) { cl.log = l } }

// WithMaxPayload 限制单条入站消息大小，0 表示不限
func WithMaxPayload(n int) Option { return func(cl *Client) { cl.maxPayload = n } }

// Client 为阻塞式帧协议客户端：写在调用方 goroutine，读在独立 goroutine
type Client struct {
	conn       net.Conn
	enc        *protocol.Encoder
	prs        *protocol.Parser
	cipher     protocol.Cipher
	log        *zap.Logger
	maxPayload int

	mu   sync.Mutex // 串行化写，保证加密偏移与帧顺序一致
	once sync.Once
	// 接收缓冲，跨多次 Read 累积，避免半包丢失
	rb []byte
}

func Dial(network, address string, h Handler, opts ...Option) (*Client, error) {
	nc, err := net.Dial(network, address)
	if err != nil {
		return nil, err
	}
	c := &Client{conn: nc, enc: protocol.NewEncoder(), log: zap.NewNop()}
	for _, o := range opts {
		o(c)
	}
	c.prs = protocol.NewParser(c.maxPayload, 0)
	h.OnOpen(c)
	go c.readLoop(h)
	return c, nil
}

func (c *Client) readLoop(h Handler) {
	buf := make([]byte, 64<<10)
	var cause error
	for cause == nil {
		n, err := c.conn.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if c.cipher != nil {
				c.cipher.DecryptInPlace(chunk)
			}
			c.rb = append(c.rb, chunk...)
			consumed, perr := c.prs.Parse(c.rb, func(api uint16, payload []byte) error {
				h.OnMessage(c, api, payload)
				return nil
			})
			// 滑动缓冲：保留未消费部分
			c.rb = append(c.rb[:0], c.rb[consumed:]...)
			if perr != nil {
				c.log.Warn("client: parse error", zap.Error(perr))
				cause = perr
				break
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				cause = err
			}
			break
		}
	}
	_ = c.Close()
	h.OnClose(c, cause)
}

func (c *Client) Write(api uint16, msg []byte) error {
	frame, err := c.enc.EncodeSingle(api, msg, false)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cipher != nil {
		c.cipher.EncryptInPlace(frame)
	}
	_, err = c.conn.Write(frame)
	return err
}

func (c *Client) LocalAddr() net.Addr { return c.conn.LocalAddr() }

// Close 可重复调用
func (c *Client) Close() error {
	var err error
	c.once.Do(func() { err = c.conn.Close() })
	return err
}
