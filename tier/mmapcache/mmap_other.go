//go:build !unix

package mmapcache

import (
	"fmt"
	"os"

	"github.com/unkn0wn-root/tiercache/tier"
)

// No mmap surface here: every operation fails and the probe removes the
// tier, rather than faking the semantics with buffered file IO.

var errNoMmap = fmt.Errorf("%w: mmap not supported on this platform", tier.ErrUnavailable)

func mapRW(*os.File, int) ([]byte, error) { return nil, errNoMmap }
func mapRO(*os.File, int) ([]byte, error) { return nil, errNoMmap }
func msync([]byte) error                  { return errNoMmap }
func unmap([]byte) error                  { return nil }
