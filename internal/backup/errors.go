package backup

import (
	"errors"
	"fmt"
)

// Stage names the step of a run that failed.
type Stage string

const (
	StageValidation Stage = "validation"
	StageInitialize Stage = "initialize"
	StageRetention  Stage = "retention"
	StageDump       Stage = "dump"
	StageArchive    Stage = "archive"
	StageUpload     Stage = "upload"
)

// Process exit codes.
const (
	ExitSuccess = 0
	ExitFailure = 2
)

// StageError reports which stage of a run failed.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("backup %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// StageOf returns the failed stage of err, or "" when err carries none.
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

// ExitCode maps the outcome of a run to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	return ExitFailure
}
