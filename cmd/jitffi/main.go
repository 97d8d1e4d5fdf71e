package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"

	"github.com/tinyrange/jitffi/internal/calldesc"
	"github.com/tinyrange/jitffi/internal/ffi"
	"golang.org/x/term"
)

type argFlags []string

func (a *argFlags) String() string { return strings.Join(*a, ",") }

func (a *argFlags) Set(v string) error {
	*a = append(*a, v)
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "jitffi: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	abiName := flag.String("abi", "", "Calling convention (sysv, win64; default host)")
	lib := flag.String("lib", "", "Library to load the symbol from")
	sym := flag.String("sym", "", "Symbol to call")
	dump := flag.Bool("dump", false, "Print the generated thunk and argument placements")
	noCall := flag.Bool("no-call", false, "Build the thunk without invoking it")
	debug := flag.Bool("debug", false, "Enable debug logging")
	var rawArgs argFlags
	flag.Var(&rawArgs, "arg", "Argument as type:value, repeatable (i8..i64, u8..u64, ptr, str, f32, f64)")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] [call.yaml]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Call a native function through a generated x86-64 thunk.\n\n")
		fmt.Fprintf(os.Stderr, "Examples:\n")
		fmt.Fprintf(os.Stderr, "  %s -lib libc.so.6 -sym strlen -arg str:hello\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -dump call.yaml\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	call, err := loadCall(flag.Args(), *lib, *sym, rawArgs)
	if err != nil {
		flag.Usage()
		return err
	}

	if *abiName != "" {
		call.ABI = *abiName
	}
	abi, err := ffi.ParseABI(call.ABI)
	if err != nil {
		return err
	}

	resolved, err := calldesc.Resolve(call.Args)
	if err != nil {
		return fmt.Errorf("resolve arguments: %w", err)
	}

	fn, err := lookupSymbol(call.Library, call.Symbol)
	if err != nil {
		return err
	}
	slog.Debug("symbol resolved", "library", call.Library, "symbol", call.Symbol, "addr", fmt.Sprintf("%#x", fn))

	thunk, err := ffi.BuildFromLists(abi, fn, resolved.Data, resolved.Types)
	if err != nil {
		return fmt.Errorf("build thunk: %w", err)
	}
	defer func() {
		if err := thunk.Release(); err != nil {
			slog.Warn("release thunk", "error", err)
		}
	}()

	if *dump {
		dumpThunk(os.Stdout, thunk, dumpWidth(os.Stdout))
	}
	if *noCall {
		return nil
	}

	ret, err := thunk.Call()
	runtime.KeepAlive(resolved)
	if err != nil {
		return fmt.Errorf("call %s: %w", call.Symbol, err)
	}
	fmt.Printf("%d (%#x)\n", int64(ret), ret)
	return nil
}

// loadCall builds the call from a description file, the command-line flags,
// or both. Flags override the file.
func loadCall(paths []string, lib, sym string, rawArgs []string) (*calldesc.Call, error) {
	call := &calldesc.Call{}
	switch len(paths) {
	case 0:
	case 1:
		loaded, err := calldesc.Load(paths[0])
		if err != nil {
			return nil, err
		}
		call = loaded
	default:
		return nil, fmt.Errorf("expected at most one call description, got %d", len(paths))
	}

	if lib != "" {
		call.Library = lib
	}
	if sym != "" {
		call.Symbol = sym
	}
	for _, raw := range rawArgs {
		arg, err := calldesc.ParseArg(raw)
		if err != nil {
			return nil, err
		}
		call.Args = append(call.Args, arg)
	}
	if err := call.Validate(); err != nil {
		return nil, err
	}
	return call, nil
}

func dumpWidth(f *os.File) int {
	const fallback = 16
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return fallback
	}
	cols, _, err := term.GetSize(fd)
	if err != nil {
		return fallback
	}
	// "00000000  " then three columns per byte.
	n := (cols - 10) / 3
	n -= n % 8
	return min(max(n, 8), 32)
}

func dumpThunk(w io.Writer, thunk *ffi.Thunk, perLine int) {
	code := thunk.Code()
	fmt.Fprintf(w, "thunk: %d bytes, %s, target %#x\n", len(code), thunk.ABI(), thunk.Func())
	for off := 0; off < len(code); off += perLine {
		end := min(off+perLine, len(code))
		fmt.Fprintf(w, "%08x ", off)
		for _, b := range code[off:end] {
			fmt.Fprintf(w, " %02x", b)
		}
		fmt.Fprintln(w)
	}
	for i, p := range thunk.Placements() {
		fmt.Fprintf(w, "unit %d: %-6s %-5s %#x\n", i, p.Class, thunk.ABI().RegisterName(p), p.Value)
	}
}
