package mamstore

import (
	"errors"
	"fmt"

	"github.com/hupe1980/mamstore/node"
	"github.com/hupe1980/mamstore/pagestore"
	"github.com/hupe1980/mamstore/snapshot"
)

var (
	// ErrNotFound is returned for unknown clients and for pages that are
	// free, out of range or owned by another client.
	ErrNotFound = errors.New("not found")

	// ErrClosed is returned for operations on a closed DB.
	ErrClosed = errors.New("db closed")

	// ErrCorrupt is returned when the page file, a node or a snapshot fails
	// validation.
	ErrCorrupt = errors.New("corrupt data")

	// ErrOwnership is returned when a client touches a page tagged with
	// another client.
	ErrOwnership = errors.New("page owned by another client")

	// ErrIO wraps failures of the backing file.
	ErrIO = errors.New("i/o error")

	// ErrClientsOpen is returned by Close while client sessions are open.
	ErrClientsOpen = errors.New("client sessions still open")
)

// ErrInvalidPageSize indicates an unsupported page size. It unwraps to
// pagestore.ErrInvalidPageSize.
type ErrInvalidPageSize struct {
	PageSize uint32
}

func (e *ErrInvalidPageSize) Error() string {
	return fmt.Sprintf("invalid page size: %d", e.PageSize)
}

func (e *ErrInvalidPageSize) Unwrap() error { return pagestore.ErrInvalidPageSize }

// translateError maps package errors onto the root sentinels while keeping
// the original chain intact.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, pagestore.ErrNotFound), errors.Is(err, pagestore.ErrUnknownClient):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, pagestore.ErrClosed), errors.Is(err, pagestore.ErrInvalidState):
		return fmt.Errorf("%w: %w", ErrClosed, err)
	case errors.Is(err, pagestore.ErrClientsOpen):
		return fmt.Errorf("%w: %w", ErrClientsOpen, err)
	case errors.Is(err, pagestore.ErrOwnershipMismatch):
		return fmt.Errorf("%w: %w", ErrOwnership, err)
	case errors.Is(err, pagestore.ErrCorruptHeader),
		errors.Is(err, snapshot.ErrCorrupt),
		errors.Is(err, node.ErrCorrupt):
		return fmt.Errorf("%w: %w", ErrCorrupt, err)
	case errors.Is(err, pagestore.ErrIOFailure):
		return fmt.Errorf("%w: %w", ErrIO, err)
	}

	return err
}
