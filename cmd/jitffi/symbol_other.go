//go:build !(darwin || freebsd || linux || windows)

package main

import (
	"fmt"
	"runtime"
)

func lookupSymbol(library, symbol string) (uintptr, error) {
	return 0, fmt.Errorf("loading %s from %s is not supported on %s", symbol, library, runtime.GOOS)
}
