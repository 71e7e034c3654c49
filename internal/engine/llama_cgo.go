//go:build llama

package engine

// cgo link directives for the in-process llama backend.
// The rpath of $ORIGIN lets the loader find libllama.so next to the binary
// (./bin); -L points the linker at the same directory.
/*
#cgo LDFLAGS: -Wl,-rpath,'$ORIGIN' -L${SRCDIR}/../../bin -lllama
*/
import "C"
