// Package node implements the slotted page layout used by index nodes and
// helpers that spread a list of payloads over a chain of pages.
//
// A node never splits or compacts itself. When AddEntry reports false the
// caller decides what to do, typically allocate a new page or split:
//
//	n, _ := node.FromPage(p, 16)
//	if !n.AddEntry(obj) {
//	    // node full
//	}
package node
