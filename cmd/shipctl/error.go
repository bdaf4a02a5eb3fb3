package main

import (
	"errors"
	"fmt"
)

type usageError struct {
	error
}

func newUsageError(msg string) usageError {
	return usageError{error: errors.New(msg)}
}

var errorWantedNoArgs = newUsageError("expected no (non-flag) arguments")

func checkExactlyOne(optsDescription string, supplied ...bool) error {
	found := false
	for _, s := range supplied {
		if found && s {
			return newUsageError("please supply only one of " + optsDescription)
		}
		found = found || s
	}

	if !found {
		return newUsageError("please supply exactly one of " + optsDescription)
	}

	return nil
}

// deploymentError turns a non-success report into a process exit
// status without cobra printing anything further.
type deploymentError struct {
	code int
}

func (e deploymentError) Error() string {
	return fmt.Sprintf("deployment concluded with exit status %d", e.code)
}
