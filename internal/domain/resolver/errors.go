package resolver

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrCyclicDependency  = errors.New("cyclic dependency")
	ErrUnknownDependency = errors.New("unknown dependency")
	ErrDuplicateTemplate = errors.New("duplicate template id")
)

// CyclicDependencyError names the templates forming one dependency cycle.
// Cycle starts and ends with the same id.
type CyclicDependencyError struct {
	Cycle []string
}

func (e *CyclicDependencyError) Error() string {
	if len(e.Cycle) == 0 {
		return ErrCyclicDependency.Error()
	}
	return fmt.Sprintf("%s: %s", ErrCyclicDependency, strings.Join(e.Cycle, " -> "))
}

func (e *CyclicDependencyError) Unwrap() error { return ErrCyclicDependency }

// GraphError reports a structural problem other than a cycle.
type GraphError struct {
	Kind error
	Msg  string
}

func (e *GraphError) Error() string {
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *GraphError) Unwrap() error { return e.Kind }

func graphErrorf(kind error, format string, args ...any) error {
	return &GraphError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}
