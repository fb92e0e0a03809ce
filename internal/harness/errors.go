package harness

import (
	"errors"
	"fmt"
	"strings"
)

var ErrExecTimeout = errors.New("target did not exit before the execution timeout")

// LaunchError reports a target that could not be started at all.
type LaunchError struct {
	Argv []string
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to launch [%s]: %v", strings.Join(e.Argv, " "), e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}
