//go:build unix

// Package fslock wraps the advisory file locks the file-backed tiers use:
// shared for reads, exclusive for writes, held only for the duration of a
// single read or write, never across a fan-out loop.
package fslock

import (
	"os"

	"golang.org/x/sys/unix"
)

// Shared blocks until a shared (read) lock on f is granted.
func Shared(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_SH)
}

// Exclusive blocks until an exclusive (write) lock on f is granted.
func Exclusive(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_EX)
}

// Unlock releases whatever lock is held on f.
func Unlock(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
