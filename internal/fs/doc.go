// Package fs provides filesystem abstractions for testability and fault injection.
//
//   - [File]: an open page file with positional reads and writes
//   - [FileSystem]: open, remove, rename, stat, mkdir
//
// Production code uses [Default] ([LocalFS]). Tests wrap it in a [FaultyFS]
// to make reads, writes, syncs or closes fail on demand:
//
//	ffs := fs.NewFaultyFS(nil)
//	store := pagestore.NewDiskStore(path, func(o *pagestore.Options) { o.FileSystem = ffs })
//	...
//	ffs.AddRule("store.mam", fs.Fault{FailWrites: true})
//
// Rules are evaluated on every call, so a fault can be armed after the file
// has been opened.
//
// The package intentionally takes no context.Context: local file operations
// are short and not interruptible at the syscall level.
package fs
