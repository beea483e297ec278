//go:build (darwin && !ios) || linux

package shm

import (
	"errors"

	"golang.org/x/sys/unix"
)

// segPut writes data into the segment behind k, creating it at
// max(len(data), minSize) bytes. An existing segment too small for the data
// is removed and recreated; one that fits is reused in place.
func segPut(k int32, data []byte, minSize int) error {
	size := len(data)
	if size < minSize {
		size = minSize
	}
	id, err := unix.SysvShmGet(int(k), size, unix.IPC_CREAT|0o600)
	if errors.Is(err, unix.EINVAL) {
		// Exists but smaller than size. Recreate at the new extent.
		old, gerr := unix.SysvShmGet(int(k), 0, 0)
		if gerr != nil {
			return err
		}
		if _, rerr := unix.SysvShmCtl(old, unix.IPC_RMID, nil); rerr != nil {
			return rerr
		}
		id, err = unix.SysvShmGet(int(k), size, unix.IPC_CREAT|0o600)
	}
	if err != nil {
		return err
	}

	b, err := unix.SysvShmAttach(id, 0, 0)
	if err != nil {
		return err
	}
	defer unix.SysvShmDetach(b)

	n := copy(b, data)
	clear(b[n:])
	return nil
}

// segRead copies the whole segment out before detaching. found is false
// when no segment exists behind k.
func segRead(k int32) (raw []byte, found bool, err error) {
	id, err := unix.SysvShmGet(int(k), 0, 0)
	if err != nil {
		if errors.Is(err, unix.ENOENT) {
			return nil, false, nil
		}
		return nil, false, err
	}
	b, err := unix.SysvShmAttach(id, 0, unix.SHM_RDONLY)
	if err != nil {
		return nil, false, err
	}
	defer unix.SysvShmDetach(b)

	raw = make([]byte, len(b))
	copy(raw, b)
	return raw, true, nil
}

// segRemove marks the segment for destruction; it dies once the last
// attachment detaches. Absent segments are not an error.
func segRemove(k int32) error {
	id, err := unix.SysvShmGet(int(k), 0, 0)
	if err != nil {
		if errors.Is(err, unix.ENOENT) {
			return nil
		}
		return err
	}
	_, err = unix.SysvShmCtl(id, unix.IPC_RMID, nil)
	if errors.Is(err, unix.EINVAL) || errors.Is(err, unix.EIDRM) {
		return nil // raced another remover
	}
	return err
}
