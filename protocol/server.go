package protocol

import (
	"github.com/legamerdc/nio"
	"github.com/legamerdc/nio/buffer"
)

// Server 把帧协议挂到引擎上，实现 nio.ServerHandler
type Server struct {
	Handler Handler
	Options Options
	// NewCipher 非空时每条连接构造一个 Cipher，并在帧协议外包一层加密 Stage
	NewCipher func() Cipher
}

func (s *Server) UsesTLS() bool { return s.NewCipher != nil }

func (s *Server) Connect(p nio.Pipeline, in, out *buffer.Buffer) nio.Stage {
	frames := func(p nio.Pipeline, in, out *buffer.Buffer) nio.Stage {
		return NewFrameStage(p, in, out, s.Handler, s.Options)
	}
	if s.NewCipher == nil {
		return frames(p, in, out)
	}
	return NewCipherStage(p, in, out, s.NewCipher(), frames)
}
