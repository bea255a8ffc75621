package job

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates the job id does not exist.
var ErrNotFound = errors.New("job not found")

// ErrEmptyInput indicates job creation was attempted with no valid items.
var ErrEmptyInput = errors.New("no valid input items")

// InvalidTransitionError reports an illegal lifecycle move. The job is
// left untouched when it is returned.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid job transition %s -> %s", e.From, e.To)
}

// InvalidFilterError reports an unknown results filter name.
type InvalidFilterError struct {
	Filter string
}

func (e *InvalidFilterError) Error() string {
	return fmt.Sprintf("unknown results filter %q", e.Filter)
}
