package syncer

import (
	"fmt"
	"strings"
)

const failureMessage = "Failed to save to cloud. Check your connection."

// SyncError reports a commit the document store did not accept. The message is
// meant for the user; the cause is kept for logs.
type SyncError struct {
	Path string
	Err  error
}

func (e *SyncError) Error() string {
	return failureMessage
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// FailurePolicy decides what happens to the optimistic mirror when a commit
// fails.
type FailurePolicy string

const (
	// KeepOnFailure leaves the attempted value in the mirror until the next
	// snapshot replaces it.
	KeepOnFailure FailurePolicy = "keep"
	// RollbackOnFailure restores the pre-commit value unless the mirror has
	// changed again since the commit started.
	RollbackOnFailure FailurePolicy = "rollback"
)

func ParseFailurePolicy(value string) (FailurePolicy, error) {
	switch FailurePolicy(strings.ToLower(strings.TrimSpace(value))) {
	case "", KeepOnFailure:
		return KeepOnFailure, nil
	case RollbackOnFailure:
		return RollbackOnFailure, nil
	default:
		return "", fmt.Errorf("unknown commit failure policy %q", value)
	}
}
