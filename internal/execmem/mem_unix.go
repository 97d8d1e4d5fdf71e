//go:build unix

package execmem

import "golang.org/x/sys/unix"

const (
	protReadWrite = unix.PROT_READ | unix.PROT_WRITE
	protReadExec  = unix.PROT_READ | unix.PROT_EXEC
)

func pageSize() int {
	return unix.Getpagesize()
}

func sysAlloc(size int, prot int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, prot, unix.MAP_PRIVATE|unix.MAP_ANON)
}

func sysProtect(mem []byte, prot int) error {
	return unix.Mprotect(mem, prot)
}

func sysFree(mem []byte) error {
	return unix.Munmap(mem)
}
