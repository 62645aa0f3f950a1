package resource

import "fmt"

// Kind names a governed resource.
type Kind uint8

const (
	Trace Kind = iota + 1
	Screen
	Output
	Process
)

func (k Kind) String() string {
	switch k {
	case Trace:
		return "trace"
	case Screen:
		return "screen"
	case Output:
		return "output"
	case Process:
		return "process"
	default:
		return fmt.Sprintf("unknown(%d)", k)
	}
}

// LimitError reports a rejected reservation. Nothing was reserved when it
// is returned.
type LimitError struct {
	Kind Kind
	// Current is the counter value observed by the check. Unused for Screen.
	Current uint64
	// Requested is the rejected amount.
	Requested uint64
	Limit     uint64
}

func (e *LimitError) Error() string {
	switch e.Kind {
	case Trace:
		return fmt.Sprintf("trace size exceeded: current %d + %d > limit %d bytes", e.Current, e.Requested, e.Limit)
	case Screen:
		return fmt.Sprintf("screen size exceeded: requested %d > limit %d bytes", e.Requested, e.Limit)
	case Output:
		return fmt.Sprintf("output buffer exceeded: current %d + %d > limit %d bytes", e.Current, e.Requested, e.Limit)
	case Process:
		return "too many processes"
	default:
		return "resource limit exceeded"
	}
}

// Is matches any *LimitError of the same Kind, so the sentinels below work
// with errors.Is.
func (e *LimitError) Is(target error) bool {
	t, ok := target.(*LimitError)
	return ok && t.Kind == e.Kind
}

var (
	ErrTraceSizeExceeded    = &LimitError{Kind: Trace}
	ErrScreenSizeExceeded   = &LimitError{Kind: Screen}
	ErrOutputBufferExceeded = &LimitError{Kind: Output}
	ErrTooManyProcesses     = &LimitError{Kind: Process}
)
