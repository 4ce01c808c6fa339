package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cenkalti/backoff/v4"
)

var (
	ErrInvalidGraph = errors.New("invalid task graph")
	ErrCycle        = errors.New("cycle detected")

	// ErrDuplicateGraph is returned by Run when two graphs share an ID.
	ErrDuplicateGraph = errors.New("duplicate graph id")
)

// GraphError wraps graph validation failures.
type GraphError struct {
	Kind  error
	Graph string
	Msg   string
}

func (e *GraphError) Error() string {
	if e == nil {
		return ""
	}
	prefix := e.Kind.Error()
	if e.Graph != "" {
		prefix = fmt.Sprintf("%s %q", prefix, e.Graph)
	}
	if e.Msg == "" {
		return prefix
	}
	return prefix + ": " + e.Msg
}

func (e *GraphError) Unwrap() error { return e.Kind }

func invalidf(graph, format string, args ...any) error {
	return &GraphError{Kind: ErrInvalidGraph, Graph: graph, Msg: fmt.Sprintf(format, args...)}
}

func cycleError(graph string, names []string) error {
	return &GraphError{Kind: ErrCycle, Graph: graph, Msg: "unordered steps: " + strings.Join(names, ", ")}
}

// Permanent marks err as not worth retrying. The stage fails on the first
// attempt that returns it, and the original err is reported.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}
