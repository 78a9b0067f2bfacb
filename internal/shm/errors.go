package shm

import "errors"

var (
	ErrRegionTooSmall = errors.New("shm: region too small")
	ErrClosed         = errors.New("shm: channel closed")
)
