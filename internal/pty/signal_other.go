//go:build !unix

package pty

// No native signal numbering exists here; use the Linux values so exit
// statuses recorded elsewhere still resolve to names.
var signalTable = []signalEntry{
	{SIGINT, 2},
	{SIGTERM, 15},
	{SIGKILL, 9},
	{SIGWINCH, 28},
	{SIGSTOP, 19},
	{SIGCONT, 18},
	{SIGHUP, 1},
	{SIGUSR1, 10},
	{SIGUSR2, 12},
}
