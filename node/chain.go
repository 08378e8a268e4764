package node

import (
	"errors"
	"fmt"

	"github.com/hupe1980/mamstore/internal/pageset"
	"github.com/hupe1980/mamstore/page"
	"github.com/hupe1980/mamstore/pagestore"
)

// ErrPayloadTooLarge is returned when a payload does not fit an empty node.
var ErrPayloadTooLarge = errors.New("payload larger than a node")

// ErrChainCycle is returned when a page chain links back to itself.
var ErrChainCycle = errors.New("page chain cycle")

// WriteChain packs payloads in order into as few nodes as possible. Pages
// are linked through the chainNext field of their tag. It returns the id of
// the first page. On error the pages allocated so far are disposed.
func WriteChain(c *pagestore.Client, headerSize int, payloads [][]byte) (page.PageID, error) {
	var allocated []*page.Page
	fail := func(err error) (page.PageID, error) {
		for _, p := range allocated {
			_ = c.DisposePage(p)
		}
		return page.NoPage, err
	}

	cur, err := c.GetNewPage()
	if err != nil {
		return page.NoPage, err
	}
	allocated = append(allocated, cur)
	n, err := New(cur.Body(), headerSize)
	if err != nil {
		return fail(err)
	}

	for i, payload := range payloads {
		if n.AddEntry(payload) {
			continue
		}
		if n.Len() == 0 {
			return fail(fmt.Errorf("%w: entry %d has %d bytes, limit %d",
				ErrPayloadTooLarge, i, len(payload), MaxPayload(len(cur.Body()), headerSize)))
		}

		next, err := c.GetNewPage()
		if err != nil {
			return fail(err)
		}
		allocated = append(allocated, next)

		cur.SetChainNext(next.ID())
		if err := c.WritePage(cur); err != nil {
			return fail(err)
		}

		cur = next
		if n, err = New(cur.Body(), headerSize); err != nil {
			return fail(err)
		}
		if !n.AddEntry(payload) {
			return fail(fmt.Errorf("%w: entry %d has %d bytes, limit %d",
				ErrPayloadTooLarge, i, len(payload), MaxPayload(len(cur.Body()), headerSize)))
		}
	}

	if err := c.WritePage(cur); err != nil {
		return fail(err)
	}
	return allocated[0].ID(), nil
}

// ReadChain returns copies of every payload in the chain starting at head.
func ReadChain(c *pagestore.Client, head page.PageID, headerSize int) ([][]byte, error) {
	var out [][]byte
	err := walk(c, head, func(p *page.Page) error {
		n, err := Open(p.Body(), headerSize)
		if err != nil {
			return fmt.Errorf("page %d: %w", p.ID(), err)
		}
		for _, obj := range n.All() {
			out = append(out, append([]byte(nil), obj...))
		}
		return nil
	})
	return out, err
}

// FreeChain disposes every page of the chain starting at head.
func FreeChain(c *pagestore.Client, head page.PageID) error {
	var pages []*page.Page
	if err := walk(c, head, func(p *page.Page) error {
		pages = append(pages, p)
		return nil
	}); err != nil {
		return err
	}

	var errs []error
	for _, p := range pages {
		if err := c.DisposePage(p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ChainLength returns the number of pages in the chain starting at head.
func ChainLength(c *pagestore.Client, head page.PageID) (int, error) {
	n := 0
	err := walk(c, head, func(*page.Page) error {
		n++
		return nil
	})
	return n, err
}

func walk(c *pagestore.Client, head page.PageID, fn func(*page.Page) error) error {
	seen := pageset.New()
	for id := head; id != page.NoPage; {
		if !seen.Add(id) {
			return fmt.Errorf("%w: page %d visited twice", ErrChainCycle, id)
		}
		p, err := c.GetPage(id)
		if err != nil {
			return err
		}
		next := p.ChainNext()
		err = fn(p)
		_ = c.ReleasePage(p)
		if err != nil {
			return err
		}
		id = next
	}
	return nil
}
