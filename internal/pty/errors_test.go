package pty

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorKindSurvivesWrapping(t *testing.T) {
	base := newError(KindResizeFailed, "80x24", ErrProcessExited)
	wrapped := fmt.Errorf("session s1: %w", base)

	if !IsKind(wrapped, KindResizeFailed) {
		t.Fatalf("IsKind(wrapped, KindResizeFailed) = false")
	}
	if IsKind(wrapped, KindIO) {
		t.Fatalf("IsKind(wrapped, KindIO) = true")
	}
	if !errors.Is(wrapped, ErrProcessExited) {
		t.Fatalf("errors.Is(wrapped, ErrProcessExited) = false")
	}
	if _, ok := KindOf(errors.New("plain")); ok {
		t.Fatalf("KindOf(plain error) reported a kind")
	}
}

func TestUnsupportedPlatformMessageNamesOS(t *testing.T) {
	err := &Error{Kind: KindUnsupportedPlatform, OS: "plan9"}
	if !strings.Contains(err.Error(), "plan9") {
		t.Fatalf("Error() = %q, want OS name", err.Error())
	}
}
