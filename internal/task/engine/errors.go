package engine

import "errors"

var (
	ErrClosed      = errors.New("task engine closed")
	ErrOverlapSkip = errors.New("task skipped due to overlap policy")
	ErrNilRun      = errors.New("task Run is nil")
)
