package mux

// Surface is the rendering boundary: a pre-built terminal-emulation widget
// that consumes raw output bytes and produces pixels. The multiplexer never
// inspects what it writes. Surface operations cannot fail; implementations
// absorb their own transport errors.
type Surface interface {
	// Write feeds raw output to the emulator.
	Write(data string)

	// Reset clears the emulator before a replay reconstructs history.
	Reset()

	// Focus directs keyboard input to the surface after an attach.
	Focus()
}
