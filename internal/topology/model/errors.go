package model

import "fmt"

// BuildError wraps a single component's construction failure so the
// builder can accumulate many of these without aborting the rest of the
// build (spec §4.6, §7).
type BuildError struct {
	Key ComponentKey
	Err error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("%s: %v", e.Key, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// NewBuildError constructs a BuildError for the given component.
func NewBuildError(key ComponentKey, err error) *BuildError {
	return &BuildError{Key: key, Err: err}
}
