package mamstore_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/hupe1980/mamstore"
	"github.com/hupe1980/mamstore/blobstore"
	"github.com/hupe1980/mamstore/node"
)

// Example demonstrates storing a node for one client and reading it back.
func Example() {
	dir, err := os.MkdirTemp("", "mamstore-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	ctx := context.Background()
	db, err := mamstore.Create(filepath.Join(dir, "index.pages"), mamstore.WithPageSize(1024))
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	id, _ := db.CreateClient(ctx)
	c, _ := db.OpenClient(id)
	defer c.Close()

	p, _ := c.GetNewPage()
	n, _ := node.FromPage(p, 16)
	n.AddEntry([]byte("hello"))
	n.AddEntry([]byte("world"))
	_ = c.WritePage(p)

	q, _ := c.GetPage(p.ID())
	n, _ = node.FromPage(q, 16)
	for i, e := range n.All() {
		fmt.Println(i, string(e))
	}
	// Output:
	// 0 hello
	// 1 world
}

// ExampleDB_Snapshot demonstrates backing up a page file.
func ExampleDB_Snapshot() {
	dir, err := os.MkdirTemp("", "mamstore-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	ctx := context.Background()
	db, err := mamstore.Create(filepath.Join(dir, "index.pages"))
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	backups := blobstore.NewLocalStore(filepath.Join(dir, "backups"))
	m, err := db.Snapshot(ctx, backups, "nightly")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(m.Name, m.PageCount)
	// Output: nightly 1
}
