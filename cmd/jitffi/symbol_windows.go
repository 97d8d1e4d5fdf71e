//go:build windows

package main

import (
	"fmt"

	"golang.org/x/sys/windows"
)

func lookupSymbol(library, symbol string) (uintptr, error) {
	lib, err := windows.LoadLibrary(library)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", library, err)
	}
	fn, err := windows.GetProcAddress(lib, symbol)
	if err != nil {
		return 0, fmt.Errorf("resolve %s in %s: %w", symbol, library, err)
	}
	return fn, nil
}
