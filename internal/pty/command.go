package pty

import (
	"fmt"
	"strings"

	"github.com/kballard/go-shellquote"
)

// ParseCommand splits a command line into argv using shell quoting rules.
// Multi-line scripts and pipelines are handed to sh -c unchanged.
func ParseCommand(command string) ([]string, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, newError(KindSpawnFailed, "parse command", ErrEmptyProgram)
	}
	if strings.ContainsAny(command, "\n|&;$`<>") {
		return []string{"sh", "-c", command}, nil
	}
	argv, err := shellquote.Split(command)
	if err != nil {
		return nil, newError(KindSpawnFailed, fmt.Sprintf("parse command %q", command), err)
	}
	if len(argv) == 0 {
		return nil, newError(KindSpawnFailed, "parse command", ErrEmptyProgram)
	}
	return argv, nil
}

// CommandConfig builds a SpawnConfig from a command line.
func CommandConfig(command string) (SpawnConfig, error) {
	argv, err := ParseCommand(command)
	if err != nil {
		return SpawnConfig{}, err
	}
	return SpawnConfig{Program: argv[0], Args: argv[1:]}, nil
}
