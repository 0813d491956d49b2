package errors

import "errors"

// Domain errors
var (
	// Run errors
	ErrRunNotFound        = errors.New("run not found")
	ErrRunAlreadyStarted  = errors.New("run already started")
	ErrRunNotStarted      = errors.New("run not started")
	ErrRunAlreadyFinished = errors.New("run already finished")
	ErrEmptyOperator      = errors.New("operator cannot be empty")
	ErrInvalidRunStatus   = errors.New("invalid run status")

	// Check errors
	ErrCheckNotFound     = errors.New("check not found")
	ErrCategoryNotFound  = errors.New("category not found")
	ErrDuplicateCheck    = errors.New("duplicate check id")
	ErrInvalidSelection  = errors.New("invalid check selection")
	ErrInvalidDefinition = errors.New("invalid check definition")
	ErrInvalidStatus     = errors.New("invalid check status")

	// Target errors
	ErrTargetUnavailable = errors.New("target unavailable")
	ErrInvalidTargetSpec = errors.New("invalid target specification")

	// Repository errors
	ErrSerializationFailed   = errors.New("serialization failed")
	ErrDeserializationFailed = errors.New("deserialization failed")

	// Validation errors
	ErrInvalidInput    = errors.New("invalid input")
	ErrMissingRequired = errors.New("missing required field")
)
