package shareflow

import "errors"

// Sentinel construction errors, always returned synchronously from the
// constructor that validates the offending argument.
var (
	ErrNegativeReplay      = errors.New("shareflow: replay must be >= 0")
	ErrNegativeExtraBuffer = errors.New("shareflow: extra buffer must be >= 0")
	ErrInitialNeedsReplay  = errors.New("shareflow: initial value requires replay > 0")
	ErrOverflowNeedsBuffer = errors.New("shareflow: non-suspending overflow policy requires replay+extraBuffer > 0")
	ErrNegativeDelay       = errors.New("shareflow: policy delay must be >= 0")
)
