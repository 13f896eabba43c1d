package kernel

import (
	"bytes"
	"testing"

	"rmm/kernel/kfmt/early"
)

type panicSink struct {
	buf bytes.Buffer
}

func (s *panicSink) WriteByte(b byte) { s.buf.WriteByte(b) }
func (s *panicSink) Write(p []byte)   { s.buf.Write(p) }

func TestPanic(t *testing.T) {
	defer func() {
		haltFn = func() {
			for {
			}
		}
	}()

	var haltCalled bool
	haltFn = func() {
		haltCalled = true
	}

	t.Run("with error", func(t *testing.T) {
		haltCalled = false
		sink := &panicSink{}
		prevWriter := early.Writer
		early.Writer = sink
		defer func() { early.Writer = prevWriter }()

		err := &Error{Module: "test", Message: "panic test"}
		Panic(err)

		exp := "\n-----------------------------------\n[test] unrecoverable error: panic test\n*** kernel panic: system halted ***\n-----------------------------------\n"

		if got := sink.buf.String(); got != exp {
			t.Fatalf("expected to get:\n%q\ngot:\n%q", exp, got)
		}

		if !haltCalled {
			t.Fatal("expected haltFn() to be called by Panic")
		}
	})

	t.Run("without error", func(t *testing.T) {
		haltCalled = false
		sink := &panicSink{}
		prevWriter := early.Writer
		early.Writer = sink
		defer func() { early.Writer = prevWriter }()

		Panic(nil)

		exp := "\n-----------------------------------\n*** kernel panic: system halted ***\n-----------------------------------\n"

		if got := sink.buf.String(); got != exp {
			t.Fatalf("expected to get:\n%q\ngot:\n%q", exp, got)
		}

		if !haltCalled {
			t.Fatal("expected haltFn() to be called by Panic")
		}
	})
}
