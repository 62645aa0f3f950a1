//go:build unix

package pty

import "golang.org/x/sys/unix"

var signalTable = []signalEntry{
	{SIGINT, int(unix.SIGINT)},
	{SIGTERM, int(unix.SIGTERM)},
	{SIGKILL, int(unix.SIGKILL)},
	{SIGWINCH, int(unix.SIGWINCH)},
	{SIGSTOP, int(unix.SIGSTOP)},
	{SIGCONT, int(unix.SIGCONT)},
	{SIGHUP, int(unix.SIGHUP)},
	{SIGUSR1, int(unix.SIGUSR1)},
	{SIGUSR2, int(unix.SIGUSR2)},
}
