package exception

import "github.com/yanun0323/errors"

var (
	ErrPlatformNotRunning = errors.New("platform: not running")
	ErrPlatformRunning    = errors.New("platform: already running")
	ErrPlatformStopped    = errors.New("platform: stopped")
)

var (
	ErrAgentUnknown      = errors.New("coordinator: unknown agent")
	ErrAgentDuplicate    = errors.New("coordinator: agent already registered")
	ErrAgentUnresponsive = errors.New("coordinator: agent did not reply")
	ErrCoordinatorClosed = errors.New("coordinator: closed")
)
