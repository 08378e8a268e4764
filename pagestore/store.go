package pagestore

import (
	"github.com/hupe1980/mamstore/page"
)

// Store is the page server contract shared by every backing store and by
// decorators such as pagecache.Cache. Each call is scoped to a client.
type Store interface {
	// GetPage loads a page. It fails with ErrNotFound if id is out of range,
	// free, or not owned by c.
	GetPage(c page.ClientID, id page.PageID) (*page.Page, error)

	// GetNewPage allocates a zeroed page tagged with c. The free list head is
	// reused before the store grows.
	GetNewPage(c page.ClientID) (*page.Page, error)

	// WritePage persists the page contents at its id. It fails with
	// ErrOwnershipMismatch if the page tag does not name c.
	WritePage(c page.ClientID, p *page.Page) error

	// DisposePage returns the page to the free list. It fails with
	// ErrDoubleFree if the page is already free. Contents are not wiped.
	DisposePage(c page.ClientID, p *page.Page) error

	// ReleasePage drops a handle obtained from GetPage or GetNewPage without
	// persisting it and without freeing the page. It never performs I/O.
	ReleasePage(c page.ClientID, p *page.Page) error

	// HeaderPageID returns the root page registered for c.
	HeaderPageID(c page.ClientID) (page.PageID, error)

	// PageCount returns the number of pages in the store, header included.
	PageCount(c page.ClientID) (uint32, error)

	// PageSize returns the fixed page size.
	PageSize() uint32
}

// Client is a handle bound to one client id and one Store.
type Client struct {
	id      page.ClientID
	store   Store
	session *session
}

type session struct {
	close func() error
}

// NewClient binds id to store. The handle owns no session; Close is a no-op.
func NewClient(store Store, id page.ClientID) *Client {
	return &Client{id: id, store: store}
}

// ID returns the client id.
func (c *Client) ID() page.ClientID { return c.id }

// Store returns the store the handle routes through.
func (c *Client) Store() Store { return c.store }

// Via returns a handle for the same client and session that routes page
// traffic through s, typically a cache in front of the original store.
func (c *Client) Via(s Store) *Client {
	return &Client{id: c.id, store: s, session: c.session}
}

func (c *Client) GetPage(id page.PageID) (*page.Page, error) {
	return c.store.GetPage(c.id, id)
}

func (c *Client) GetNewPage() (*page.Page, error) {
	return c.store.GetNewPage(c.id)
}

func (c *Client) WritePage(p *page.Page) error {
	return c.store.WritePage(c.id, p)
}

func (c *Client) DisposePage(p *page.Page) error {
	return c.store.DisposePage(c.id, p)
}

func (c *Client) ReleasePage(p *page.Page) error {
	return c.store.ReleasePage(c.id, p)
}

func (c *Client) HeaderPageID() (page.PageID, error) {
	return c.store.HeaderPageID(c.id)
}

func (c *Client) PageCount() (uint32, error) {
	return c.store.PageCount(c.id)
}

func (c *Client) PageSize() uint32 {
	return c.store.PageSize()
}

// Close ends the client session. Pages are not deleted. Closing a handle
// twice, or a handle derived with Via after its origin was closed, is a no-op.
func (c *Client) Close() error {
	if c.session == nil || c.session.close == nil {
		return nil
	}
	fn := c.session.close
	c.session.close = nil
	return fn()
}
