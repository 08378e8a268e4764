package mmap

import "errors"

// AccessPattern is a kernel hint about how a mapping will be read.
type AccessPattern int

const (
	AccessDefault AccessPattern = iota
	AccessSequential
	AccessRandom
	AccessWillNeed
	AccessDontNeed
)

var (
	// ErrClosed is returned when a closed mapping is accessed.
	ErrClosed = errors.New("mmap: mapping is closed")
	// ErrInvalidSize is returned for files whose size cannot be mapped.
	ErrInvalidSize = errors.New("mmap: invalid file size")
	// ErrInvalidOffset is returned for negative read offsets.
	ErrInvalidOffset = errors.New("mmap: invalid offset")
)
