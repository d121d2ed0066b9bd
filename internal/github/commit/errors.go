package commit

import (
	"errors"
	"fmt"
)

// Steps of the commit protocol, in order.
const (
	StepResolveRef    = "resolve branch ref"
	StepResolveCommit = "resolve base commit"
	StepReadFiles     = "read local files"
	StepCreateBlob    = "create blob"
	StepCreateTree    = "create tree"
	StepCreateCommit  = "create commit"
	StepUpdateRef     = "update branch ref"
)

var (
	// ErrLocalFileMissing means a requested file does not exist in the
	// working directory. The whole batch is rejected.
	ErrLocalFileMissing = errors.New("local file missing")
	// ErrInvalidRequest means the request itself is unusable.
	ErrInvalidRequest = errors.New("invalid commit request")
)

// StepError records which protocol step failed.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
