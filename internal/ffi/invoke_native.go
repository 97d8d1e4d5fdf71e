//go:build amd64 && (darwin || freebsd || linux || windows)

package ffi

import (
	"runtime"

	"github.com/ebitengine/purego"
)

// Call runs the thunk and returns the callee's RAX.
func (t *Thunk) Call() (uintptr, error) {
	if t.abi != NativeABI() {
		return 0, ErrForeignABI
	}
	entry, err := t.Entry()
	if err != nil {
		return 0, err
	}
	r1, _, _ := purego.SyscallN(entry)
	runtime.KeepAlive(t.keep)
	return r1, nil
}
