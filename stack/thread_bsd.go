//go:build darwin || freebsd || dragonfly
// +build darwin freebsd dragonfly

package stack

// setThreadName is a no-op here: there is no portable way to rename an
// already-running thread from Go on these platforms.
func setThreadName(name string) {}
