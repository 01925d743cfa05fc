// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrValidation indicates a request failed domain validation.
var ErrValidation = errors.New("validation failed")

// ErrConflict indicates the requested state transition is not allowed.
var ErrConflict = errors.New("conflict: resource state does not permit this operation")

// ErrApprovalRequired indicates a tool execution was blocked because no
// valid approval exists and auto-approve was not requested. Recoverable
// by approving the tool and retrying.
var ErrApprovalRequired = errors.New("tool execution requires approval")

// ErrApprovalCheckFailed indicates the backend could not be reached to
// determine approval. Distinct from a denial: callers should offer a
// retry, not a permanent rejection.
var ErrApprovalCheckFailed = errors.New("approval check failed")

// ErrAlreadyTerminal indicates a cancel was requested for an execution
// that already reached a terminal status. No state change occurs.
var ErrAlreadyTerminal = errors.New("execution already terminal")

// ErrRemoteExecution indicates the remote execute/cancel/fetch call
// itself failed. Tracker state is left untouched on this error.
var ErrRemoteExecution = errors.New("remote execution call failed")

// ErrStreamConnection indicates a server log subscription failed or
// dropped. The log buffer is untouched; connection state reflects it.
var ErrStreamConnection = errors.New("log stream connection failed")
