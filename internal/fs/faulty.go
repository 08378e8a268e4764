package fs

import (
	"errors"
	"os"
	"strings"
	"sync"
)

// ErrInjected is the default error returned by an armed fault.
var ErrInjected = errors.New("injected fault error")

// Fault defines specific failure behavior.
type Fault struct {
	FailAfterBytes int64 // Fail writes once this many bytes were written to the file. -1 to disable.
	// FailAfterWrites lets this many writes through after the rule is
	// added and fails the rest. 0 disables.
	FailAfterWrites int
	FailWrites     bool
	FailReads      bool
	FailOnSync     bool
	FailOnClose    bool
	Err            error
}

func (f Fault) err() error {
	if f.Err != nil {
		return f.Err
	}
	return ErrInjected
}

// FaultyFS is a FileSystem wrapper that can inject errors.
type FaultyFS struct {
	FS    FileSystem
	mu    sync.Mutex
	rules map[string]Fault // Filename pattern -> Fault
	// writes per pattern since its rule was added
	ruleWrites map[string]int

	writes int64
	reads  int64
}

// NewFaultyFS creates a new FaultyFS wrapping the provided FS (or Default if nil).
func NewFaultyFS(fs FileSystem) *FaultyFS {
	if fs == nil {
		fs = Default
	}
	return &FaultyFS{
		FS:         fs,
		rules:      make(map[string]Fault),
		ruleWrites: make(map[string]int),
	}
}

// AddRule adds a fault injection rule for files whose name contains pattern.
func (f *FaultyFS) AddRule(pattern string, fault Fault) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules[pattern] = fault
	f.ruleWrites[pattern] = 0
}

// ClearRules disarms every fault.
func (f *FaultyFS) ClearRules() {
	f.mu.Lock()
	defer f.mu.Unlock()
	clear(f.rules)
	clear(f.ruleWrites)
}

// Writes returns the number of successful WriteAt calls across all files.
func (f *FaultyFS) Writes() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

// Reads returns the number of successful ReadAt calls across all files.
func (f *FaultyFS) Reads() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

func (f *FaultyFS) faultFor(name string) (Fault, bool) {
	_, fault, ok := f.ruleFor(name)
	return fault, ok
}

func (f *FaultyFS) ruleFor(name string) (string, Fault, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key, fault, ok := "", Fault{FailAfterBytes: -1}, false
	for pattern, rule := range f.rules {
		if strings.Contains(name, pattern) {
			key, fault, ok = pattern, rule, true
		}
	}
	return key, fault, ok
}

func (f *FaultyFS) OpenFile(name string, flag int, perm os.FileMode) (File, error) {
	file, err := f.FS.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return &faultyFile{File: file, fs: f, name: name}, nil
}

func (f *FaultyFS) Remove(name string) error {
	return f.FS.Remove(name)
}

func (f *FaultyFS) Rename(oldpath, newpath string) error {
	return f.FS.Rename(oldpath, newpath)
}

func (f *FaultyFS) Stat(name string) (os.FileInfo, error) {
	return f.FS.Stat(name)
}

func (f *FaultyFS) MkdirAll(path string, perm os.FileMode) error {
	return f.FS.MkdirAll(path, perm)
}

type faultyFile struct {
	File
	fs      *FaultyFS
	name    string
	written int64
}

func (ff *faultyFile) WriteAt(p []byte, off int64) (int, error) {
	pattern, fault, ok := ff.fs.ruleFor(ff.name)
	if ok {
		if fault.FailWrites {
			return 0, fault.err()
		}
		if fault.FailAfterBytes >= 0 && ff.written+int64(len(p)) > fault.FailAfterBytes {
			return 0, fault.err()
		}
		if fault.FailAfterWrites > 0 && ff.fs.ruleWriteCount(pattern) >= fault.FailAfterWrites {
			return 0, fault.err()
		}
	}

	n, err := ff.File.WriteAt(p, off)
	ff.written += int64(n)
	if err == nil {
		ff.fs.mu.Lock()
		ff.fs.writes++
		if ok {
			ff.fs.ruleWrites[pattern]++
		}
		ff.fs.mu.Unlock()
	}
	return n, err
}

func (f *FaultyFS) ruleWriteCount(pattern string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ruleWrites[pattern]
}

func (ff *faultyFile) ReadAt(p []byte, off int64) (int, error) {
	if fault, ok := ff.fs.faultFor(ff.name); ok && fault.FailReads {
		return 0, fault.err()
	}

	n, err := ff.File.ReadAt(p, off)
	if err == nil {
		ff.fs.mu.Lock()
		ff.fs.reads++
		ff.fs.mu.Unlock()
	}
	return n, err
}

func (ff *faultyFile) Sync() error {
	if fault, ok := ff.fs.faultFor(ff.name); ok && fault.FailOnSync {
		return fault.err()
	}
	return ff.File.Sync()
}

func (ff *faultyFile) Close() error {
	if fault, ok := ff.fs.faultFor(ff.name); ok && fault.FailOnClose {
		_ = ff.File.Close()
		return fault.err()
	}
	return ff.File.Close()
}
