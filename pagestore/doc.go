// Package pagestore implements fixed-size page storage shared by several
// clients.
//
// A Store hands out pages scoped to a ClientID. DiskStore keeps everything
// in one file:
//
//	page 0        store header + first client entries
//	ext headers   overflow client entries, chained from page 0
//	client pages  tagged with the owning client (see package page)
//	free pages    LIFO list rooted in the header, linked through bytes 0..4
//
// Header mutations are serialized; page reads and writes go straight to the
// file. Put a pagecache.Cache in front of a store to batch writes.
//
// Basic usage:
//
//	s := pagestore.NewDiskStore("index.pages", func(o *pagestore.Options) {
//		o.PageSize = 8192
//	})
//	if err := s.Create(); err != nil { ... }
//	if err := s.Open(); err != nil { ... }
//	id, _ := s.CreateClient()
//	c, _ := s.OpenClient(id)
//	p, _ := c.GetNewPage()
//	copy(p.Body(), payload)
//	_ = c.WritePage(p)
//	_ = c.Close()
//	_ = s.Close()
package pagestore
