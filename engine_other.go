//go:build !linux && !darwin

package nio

// Engine 在不支持的平台上只保留 API 形状，保证编译通过
type Engine struct{}

func NewEngine(cfg Config, l Listener) (*Engine, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return nil, ErrPlatformNotSupported
}

func (e *Engine) ListenAll(port int, h ServerHandler) error       { return ErrPlatformNotSupported }
func (e *Engine) ListenLocalhost(port int, h ServerHandler) error { return ErrPlatformNotSupported }
func (e *Engine) Shutdown() error                                 { return ErrPlatformNotSupported }
func (e *Engine) OpenConnections() int                            { return 0 }
