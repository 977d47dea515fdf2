package exception

import "github.com/yanun0323/errors"

// General errors
var (
	ErrNilInstance     = errors.New("nil instance")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrTimeout         = errors.New("timed out")
	ErrNotDelivered    = errors.New("request not delivered")
)
