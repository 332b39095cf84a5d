package enrich

import (
	"context"
	"fmt"
	"runtime"
	"strings"
)

// PropStackTrace is the property holding the caller's stack.
const PropStackTrace = "Stack.Trace"

const maxStackDepth = 32

// NewStackProvider returns a provider recording the call stack at the time
// PopulateDictionary runs. skip drops that many additional frames above
// the provider itself, so logging wrappers can hide their own frames.
func NewStackProvider(skip int, opts ...Option) *Provider {
	return NewProvider("stack", []Property{
		{Name: PropStackTrace, Get: func(context.Context) (string, error) {
			return callerStack(skip)
		}},
	}, opts...)
}

func callerStack(skip int) (string, error) {
	pcs := make([]uintptr, maxStackDepth)
	// runtime.Callers, callerStack, the accessor closure, SafeValue,
	// PopulateDictionary.
	n := runtime.Callers(5+skip, pcs)
	if n == 0 {
		return "", fmt.Errorf("no frames above skip %d", skip)
	}

	var b strings.Builder
	frames := runtime.CallersFrames(pcs[:n])
	for {
		f, more := frames.Next()
		fmt.Fprintf(&b, "%s\n\t%s:%d\n", f.Function, f.File, f.Line)
		if !more {
			break
		}
	}
	return b.String(), nil
}
