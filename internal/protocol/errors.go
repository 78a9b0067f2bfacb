package protocol

import "errors"

var (
	ErrBannerTruncated = errors.New("protocol: banner truncated")
	ErrBannerMalformed = errors.New("protocol: banner malformed")
	ErrStringTooLong   = errors.New("protocol: string exceeds payload")
	ErrEmbeddedNUL     = errors.New("protocol: string contains NUL")
)
