package pagestore

import (
	"errors"
	"fmt"

	"github.com/hupe1980/mamstore/page"
)

var (
	// ErrNotFound is returned for a page id that is out of range, free,
	// reserved by the store, or owned by another client.
	ErrNotFound = errors.New("page not found")

	// ErrUnknownClient is returned for a client id that was never registered.
	ErrUnknownClient = errors.New("unknown client")

	// ErrOwnershipMismatch is returned when a page operation is issued by a
	// client other than the one recorded in the page tag.
	ErrOwnershipMismatch = errors.New("ownership mismatch")

	// ErrDoubleFree is returned when disposing a page that is already free.
	ErrDoubleFree = errors.New("double free")

	// ErrCorruptHeader is returned when the store header, the client chain
	// or the free list fails validation.
	ErrCorruptHeader = errors.New("corrupt store header")

	// ErrIOFailure wraps errors from the underlying file.
	ErrIOFailure = errors.New("i/o failure")

	// ErrClosed is returned for operations on a store that is not open.
	ErrClosed = errors.New("store closed")

	// ErrInvalidState is returned for lifecycle calls in the wrong state.
	ErrInvalidState = errors.New("invalid store state")

	// ErrClientsOpen is returned by Close while client sessions are open.
	ErrClientsOpen = errors.New("client sessions still open")

	// ErrInvalidPageSize is returned for unsupported or mismatching page sizes.
	ErrInvalidPageSize = errors.New("invalid page size")
)

// PageError records the operation, client and page of a failed call.
//
// The underlying error can be matched with errors.Is against the package
// sentinels.
type PageError struct {
	Op     string
	Client page.ClientID
	Page   page.PageID
	Err    error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("%s client=%d page=%d: %v", e.Op, e.Client, e.Page, e.Err)
}

func (e *PageError) Unwrap() error { return e.Err }

func pageErr(op string, c page.ClientID, id page.PageID, err error) error {
	return &PageError{Op: op, Client: c, Page: id, Err: err}
}

func ioErr(what string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrIOFailure, what, err)
}

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorruptHeader, fmt.Sprintf(format, args...))
}
