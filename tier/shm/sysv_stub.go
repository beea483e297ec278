//go:build !((darwin && !ios) || linux)

package shm

import (
	"fmt"

	"github.com/unkn0wn-root/tiercache/tier"
)

// No System V IPC here: every segment operation fails and the probe removes
// the tier.

var errNoShm = fmt.Errorf("%w: System V shared memory not supported on this platform", tier.ErrUnavailable)

func segPut(int32, []byte, int) error     { return errNoShm }
func segRead(int32) ([]byte, bool, error) { return nil, false, errNoShm }
func segRemove(int32) error               { return errNoShm }
