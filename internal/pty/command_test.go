package pty

import (
	"reflect"
	"testing"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		input    string
		expected []string
	}{
		{"bash", []string{"bash"}},
		{"echo hello", []string{"echo", "hello"}},
		{"sh -c 'echo hello'", []string{"sh", "-c", "echo hello"}},
		{`vim "my file.txt"`, []string{"vim", "my file.txt"}},
		{"echo hello | grep hello", []string{"sh", "-c", "echo hello | grep hello"}},
		{"cd /tmp\nls", []string{"sh", "-c", "cd /tmp\nls"}},
	}
	for _, tt := range tests {
		got, err := ParseCommand(tt.input)
		if err != nil {
			t.Errorf("ParseCommand(%q) error = %v", tt.input, err)
			continue
		}
		if !reflect.DeepEqual(got, tt.expected) {
			t.Errorf("ParseCommand(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestParseCommandErrors(t *testing.T) {
	for _, input := range []string{"", "   ", `echo "unterminated`} {
		if _, err := ParseCommand(input); !IsKind(err, KindSpawnFailed) {
			t.Errorf("ParseCommand(%q) error = %v, want KindSpawnFailed", input, err)
		}
	}
}

func TestCommandConfig(t *testing.T) {
	cfg, err := CommandConfig("top -d 1")
	if err != nil {
		t.Fatalf("CommandConfig error = %v", err)
	}
	if cfg.Program != "top" || !reflect.DeepEqual(cfg.Args, []string{"-d", "1"}) {
		t.Fatalf("CommandConfig = %+v", cfg)
	}
}
