package nio

import "go.uber.org/zap"

// Config 为引擎配置
type Config struct {
	Shards           int    `yaml:"shards"`             // shard（事件循环）数量，构造后固定
	InputBufferSize  int    `yaml:"input_buffer_size"`  // 每连接输入缓冲（字节）
	OutputBufferSize int    `yaml:"output_buffer_size"` // 每连接输出缓冲（字节）
	Backlog          int    `yaml:"backlog"`            // listen backlog，<=0 取 SOMAXCONN
	EventsPerWait    int    `yaml:"events_per_wait"`    // 单次 Wait 最多返回的事件数
	Trace            bool   `yaml:"trace"`              // 打开 Pipeline.Log
	TraceFile        string `yaml:"trace_file"`         // 非空时 trace 写入文件，否则走 Logger

	Logger *zap.Logger `yaml:"-"`
}

// DefaultConfig 提供一组可工作的默认值
func DefaultConfig() Config {
	return Config{
		Shards:           8,
		InputBufferSize:  4 << 10, // 4 KiB
		OutputBufferSize: 4 << 10, // 4 KiB
		Backlog:          1024,
		EventsPerWait:    1024,
	}
}

func (c *Config) normalize() error {
	d := DefaultConfig()
	if c.Shards == 0 {
		c.Shards = d.Shards
	}
	if c.InputBufferSize == 0 {
		c.InputBufferSize = d.InputBufferSize
	}
	if c.OutputBufferSize == 0 {
		c.OutputBufferSize = d.OutputBufferSize
	}
	if c.EventsPerWait == 0 {
		c.EventsPerWait = d.EventsPerWait
	}
	if c.Shards < 0 || c.InputBufferSize < 0 || c.OutputBufferSize < 0 || c.EventsPerWait < 0 {
		return ErrInvalidArgument
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return nil
}
