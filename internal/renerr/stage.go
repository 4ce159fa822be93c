package renerr

import "errors"

func StageError(err error, stage string) error {
	if err == nil {
		return nil
	}

	return &stageError{
		err:   err,
		stage: stage,
	}
}

type stageError struct {
	err   error
	stage string
}

func (e *stageError) Error() string {
	if e.err == nil {
		return ""
	}

	return e.err.Error()
}

func (e *stageError) Unwrap() error {
	return e.err
}

// Stage returns the pipeline stage that err was tagged with,
// or the empty string if it was not tagged with one.
func Stage(err error) string {
	serr := &stageError{}
	if errors.As(err, &serr) {
		return serr.stage
	}

	return ""
}
