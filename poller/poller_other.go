//go:build !linux && !darwin

package poller

func New() (Poller, error) { return nil, ErrPlatformNotSupported }
