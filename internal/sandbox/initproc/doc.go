// Package initproc is the sandbox helper. It runs as PID 1 inside fresh
// user, mount, PID, UTS, IPC and network namespaces, builds the
// filesystem view, drops every privilege, starts the command and reports
// back to the supervisor over the control socket.
package initproc
