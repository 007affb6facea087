package nio

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// traceSink 接收 Pipeline.Log 的输出，所有 shard 共享，需并发安全
type traceSink interface {
	log(text string)
	close() error
}

// loggerSink 直接写入引擎 logger（debug 级别）
type loggerSink struct{ l *zap.Logger }

func (s loggerSink) log(text string) { s.l.Debug(text) }
func (s loggerSink) close() error    { return nil }

// fileSink 经缓冲异步写文件，避免 shard goroutine 阻塞在磁盘上
type fileSink struct {
	l  *zap.Logger
	ws *zapcore.BufferedWriteSyncer
	f  *os.File
}

func newFileSink(path string) (*fileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("nio: open trace file: %w", err)
	}
	ws := &zapcore.BufferedWriteSyncer{
		WS:            zapcore.AddSync(f),
		Size:          10000,
		FlushInterval: time.Second,
	}
	enc := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		TimeKey:     "ts",
		MessageKey:  "msg",
		EncodeTime:  zapcore.ISO8601TimeEncoder,
		LineEnding:  zapcore.DefaultLineEnding,
		EncodeLevel: zapcore.CapitalLevelEncoder,
	})
	core := zapcore.NewCore(enc, ws, zapcore.DebugLevel)
	return &fileSink{l: zap.New(core), ws: ws, f: f}, nil
}

func (s *fileSink) log(text string) { s.l.Debug(text) }

func (s *fileSink) close() error {
	err := s.ws.Stop()
	if cerr := s.f.Close(); err == nil {
		err = cerr
	}
	return err
}

func newTraceSink(cfg *Config) (traceSink, error) {
	if !cfg.Trace {
		return nil, nil
	}
	if cfg.TraceFile != "" {
		s, err := newFileSink(cfg.TraceFile)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return loggerSink{l: cfg.Logger.Named("trace")}, nil
}

// formatTrace 输出形如 "conn[  1.000000042] text"
func formatTrace(c *Connection, at time.Duration, format string, args ...any) string {
	sec := at / time.Second
	frac := at - sec*time.Second
	return fmt.Sprintf("%s[%3d.%09d] %s", c, int64(sec), int64(frac), fmt.Sprintf(format, args...))
}
