package tax

import "errors"

var (
	ErrUnknownVariant        = errors.New("unknown variant")
	ErrUnknownSchedule       = errors.New("unknown schedule")
	ErrInvalidSchedule       = errors.New("invalid schedule")
	ErrRatioOutOfRange       = errors.New("ratio out of range")
	ErrSingleHomeUnsupported = errors.New("variant has no single-home schedule")
)
