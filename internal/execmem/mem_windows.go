//go:build windows

package execmem

import (
	"os"
	"unsafe"

	"golang.org/x/sys/windows"
)

const (
	protReadWrite = windows.PAGE_READWRITE
	protReadExec  = windows.PAGE_EXECUTE_READ
)

func pageSize() int {
	return os.Getpagesize()
}

func sysAlloc(size int, prot int) ([]byte, error) {
	addr, err := windows.VirtualAlloc(0, uintptr(size), windows.MEM_COMMIT|windows.MEM_RESERVE, uint32(prot))
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size), nil
}

func sysProtect(mem []byte, prot int) error {
	var old uint32
	addr := uintptr(unsafe.Pointer(&mem[0]))
	return windows.VirtualProtect(addr, uintptr(len(mem)), uint32(prot), &old)
}

func sysFree(mem []byte) error {
	// For MEM_RELEASE, dwSize must be 0.
	return windows.VirtualFree(uintptr(unsafe.Pointer(&mem[0])), 0, windows.MEM_RELEASE)
}
