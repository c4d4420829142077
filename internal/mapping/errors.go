package mapping

import (
	"errors"
	"fmt"
)

// ErrSkipObject is returned by Build when a mapping excludes the entry.
var ErrSkipObject = errors.New("object skipped by property mapping")

// ExpressionError reports a mapping that failed to compile or evaluate. It
// will fail the same way for every entry, so callers stop the whole pass.
type ExpressionError struct {
	Mapping string
	Err     error
}

func (e *ExpressionError) Error() string {
	return fmt.Sprintf("property mapping %q: %v", e.Mapping, e.Err)
}

func (e *ExpressionError) Unwrap() error {
	return e.Err
}
