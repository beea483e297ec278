//go:build !unix

package fslock

import "os"

// Advisory flock is not available here; cross-process exclusion falls back
// to the atomic-rename and truncate-then-write discipline of the callers.
// Single-process ordering still holds because every tier operation is
// synchronous start-to-finish.

func Shared(*os.File) error    { return nil }
func Exclusive(*os.File) error { return nil }
func Unlock(*os.File) error    { return nil }
