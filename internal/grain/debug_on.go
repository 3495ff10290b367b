//go:build grain_debug

package grain

const debugChecks = true
