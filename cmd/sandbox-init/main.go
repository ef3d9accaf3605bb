//go:build linux

// Command sandbox-init is started by nsbox as PID 1 of a new set of
// namespaces. It is not meant to be run by hand.
package main

import (
	"runtime"

	"nsbox/internal/sandbox/initproc"
)

func init() {
	runtime.LockOSThread()
}

func main() {
	initproc.Main()
}
