package mamstore

import (
	"errors"
	"fmt"
	"testing"

	"github.com/hupe1980/mamstore/node"
	"github.com/hupe1980/mamstore/pagestore"
	"github.com/hupe1980/mamstore/snapshot"
	"github.com/stretchr/testify/assert"
)

func TestTranslateError(t *testing.T) {
	assert.NoError(t, translateError(nil))

	tests := []struct {
		err  error
		want error
	}{
		{&pagestore.PageError{Op: "get page", Err: pagestore.ErrNotFound}, ErrNotFound},
		{pagestore.ErrUnknownClient, ErrNotFound},
		{pagestore.ErrClosed, ErrClosed},
		{pagestore.ErrInvalidState, ErrClosed},
		{pagestore.ErrClientsOpen, ErrClientsOpen},
		{pagestore.ErrOwnershipMismatch, ErrOwnership},
		{pagestore.ErrCorruptHeader, ErrCorrupt},
		{fmt.Errorf("chunk: %w", snapshot.ErrCorrupt), ErrCorrupt},
		{node.ErrCorrupt, ErrCorrupt},
		{pagestore.ErrIOFailure, ErrIO},
	}
	for _, tt := range tests {
		got := translateError(tt.err)
		assert.ErrorIs(t, got, tt.want, tt.err.Error())
		assert.ErrorIs(t, got, tt.err, "original error kept in chain")
	}

	other := errors.New("other")
	assert.Same(t, other, translateError(other))
}
