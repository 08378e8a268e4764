// Package mamstore provides paged storage for disk-resident metric access
// methods such as M-trees and vantage-point trees.
//
// Several index structures (clients) share one page file. Each client owns
// a header page and allocates, reads, writes and frees fixed-size pages of
// its own; freed pages go back to a free list shared by all clients. A
// write-back LRU cache sits between the clients and the file.
//
// # Quick Start
//
//	db, err := mamstore.Create("index.pages", mamstore.WithPageSize(8192))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	id, _ := db.CreateClient(ctx)
//	c, _ := db.OpenClient(id)
//	defer c.Close()
//
//	p, _ := c.GetNewPage()
//	n, _ := node.FromPage(p, 16)
//	n.AddEntry(entry)
//	_ = c.WritePage(p)
//
// Re-open an existing file with the same page size:
//
//	db, err := mamstore.Open("index.pages", mamstore.WithPageSize(8192))
//
// # Node Layout
//
// Package node lays out variable-size entries inside a page (slotted page).
// Package distcache memoizes pairwise distances while a node is split, and
// package vpsplit picks vantage points and partitions entries around them.
//
// # Backups
//
// Snapshot copies the flushed page file into a blobstore.Store as
// compressed, checksummed chunks plus a manifest:
//
//	m, err := db.Snapshot(ctx, blobstore.NewLocalStore("/backups"), "nightly-0001")
//
// Restore rebuilds a page file from the latest (or a named) snapshot:
//
//	_, err := mamstore.Restore(ctx, store, "", "restored.pages")
//
// Blob stores exist for local directories, memory, S3 (with an optional
// DynamoDB commit table) and MinIO.
package mamstore
