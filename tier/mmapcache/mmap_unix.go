//go:build unix

package mmapcache

import (
	"os"

	"golang.org/x/sys/unix"
)

func mapRW(f *os.File, size int) ([]byte, error) {
	return unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

func mapRO(f *os.File, size int) ([]byte, error) {
	return unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
}

func msync(b []byte) error { return unix.Msync(b, unix.MS_SYNC) }

func unmap(b []byte) error { return unix.Munmap(b) }
