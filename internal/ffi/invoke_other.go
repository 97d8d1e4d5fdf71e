//go:build !(amd64 && (darwin || freebsd || linux || windows))

package ffi

func (t *Thunk) Call() (uintptr, error) {
	return 0, ErrUnsupported
}
