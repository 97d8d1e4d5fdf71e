//go:build darwin || freebsd || linux

package main

import (
	"fmt"

	"github.com/ebitengine/purego"
)

func lookupSymbol(library, symbol string) (uintptr, error) {
	lib, err := purego.Dlopen(library, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", library, err)
	}
	fn, err := purego.Dlsym(lib, symbol)
	if err != nil {
		return 0, fmt.Errorf("resolve %s in %s: %w", symbol, library, err)
	}
	return fn, nil
}
