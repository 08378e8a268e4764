// Package mmap maps files read-only into memory.
//
// It backs blobstore.LocalStore, where snapshot chunks are read once and in
// arbitrary order:
//
//	m, err := mmap.Open("snap/chunk-000001")
//	if err != nil { ... }
//	defer m.Close()
//	_ = m.Advise(mmap.AccessSequential)
//	data := m.Bytes()
//
// Unix builds use mmap(2) through golang.org/x/sys/unix. Other platforms
// read the file into a heap buffer; the API is the same.
package mmap
