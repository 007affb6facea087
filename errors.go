package nio

import "errors"

var (
	// ErrPlatformNotSupported 非 Linux/Darwin 平台（需要 epoll/kqueue）
	ErrPlatformNotSupported = errors.New("nio: platform not supported (requires epoll/kqueue)")

	// ErrInvalidArgument 参数非法
	ErrInvalidArgument = errors.New("nio: invalid argument")

	// ErrShutdown 引擎或 shard 已开始关闭
	ErrShutdown = errors.New("nio: shutdown initiated")

	// ErrNilStage ServerHandler.Connect 未返回 Stage
	ErrNilStage = errors.New("nio: server handler returned nil stage")
)
