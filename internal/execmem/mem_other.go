//go:build !unix && !windows

package execmem

import "errors"

const (
	protReadWrite = 1
	protReadExec  = 2
)

var errUnsupported = errors.New("executable memory is not supported on this platform")

func pageSize() int { return 4096 }

func sysAlloc(int, int) ([]byte, error) { return nil, errUnsupported }

func sysProtect([]byte, int) error { return errUnsupported }

func sysFree([]byte) error { return errUnsupported }
