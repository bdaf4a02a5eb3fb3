package publish

import (
	"fmt"
	"strings"
)

// ErrorKind says which stage of publishing went wrong, which in turn
// decides the retry policy: auth and build failures are never
// retried, network failures are.
type ErrorKind string

const (
	ErrAuth    ErrorKind = "auth"
	ErrNetwork ErrorKind = "network"
	ErrBuild   ErrorKind = "build"
)

// Error is a publish failure for a particular service.
type Error struct {
	Kind    ErrorKind
	Service string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("publishing %s: %s: %s", e.Service, e.Kind, e.Err)
}

// Cause supports errors.Cause from github.com/pkg/errors.
func (e *Error) Cause() error {
	return e.Err
}

// IsKind reports whether err is a publish Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	perr, ok := err.(*Error)
	return ok && perr.Kind == kind
}

// pushErrorKind classifies a failed push. The docker CLI doesn't give
// us structured errors, so this goes by the messages the registry
// protocol puts on stderr. Anything that isn't recognisably an
// authorisation problem is assumed transient.
func pushErrorKind(err error) ErrorKind {
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{
		"denied",
		"unauthorized",
		"authorization",
		"no basic auth credentials",
	} {
		if strings.Contains(msg, needle) {
			return ErrAuth
		}
	}
	return ErrNetwork
}
