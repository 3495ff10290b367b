package grain

import "runtime/debug"

// debugAssert panics with a stack trace when cond is false. It compiles to
// nothing unless the grain_debug build tag is set.
func debugAssert(cond bool, msg string) {
	if debugChecks && !cond {
		panic("grain: assertion failed: " + msg + "\n" + string(debug.Stack()))
	}
}
