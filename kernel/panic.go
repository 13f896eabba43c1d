package kernel

import (
	"rmm/kernel/kfmt/early"
)

var (
	// haltFn stops the CPU after a panic has been reported. It is mocked
	// by tests and is automatically inlined by the compiler in production
	// builds. The default spins forever since no assembly halt primitive
	// is wired up at this layer.
	haltFn = func() {
		for {
		}
	}

	errRuntimePanic = &Error{Module: "rt", Message: "unknown cause"}
)

// Panic outputs the supplied error (if not nil) to the console and halts the
// CPU. Calls to Panic never return. Nothing in this module acts on the
// redirect-from directive below: calls to panic() still go to the Go runtime.
//go:redirect-from runtime.gopanic
func Panic(e interface{}) {
	var err *Error

	switch t := e.(type) {
	case *Error:
		err = t
	case string:
		errRuntimePanic.Message = t
		err = errRuntimePanic
	case error:
		errRuntimePanic.Message = t.Error()
		err = errRuntimePanic
	}

	early.Printf("\n-----------------------------------\n")
	if err != nil {
		early.Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}
	early.Printf("*** kernel panic: system halted ***")
	early.Printf("\n-----------------------------------\n")

	haltFn()
}
