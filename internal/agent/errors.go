package agent

import (
	"errors"
	"fmt"
)

// StoreError is a todo document write that failed even after recreation.
type StoreError struct {
	PhaseID string
	Err     error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("failed to persist phase %s: %v", e.PhaseID, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func asModelError(agent string, err error) error {
	var me *ModelError
	if errors.As(err, &me) {
		return err
	}
	return &ModelError{Agent: agent, Err: err}
}
