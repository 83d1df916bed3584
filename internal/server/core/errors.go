package core

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation rejects a submission before anything is enqueued.
	ErrValidation = errors.New("invalid request")

	// ErrJobNotFound covers unknown and expired job ids alike.
	ErrJobNotFound = errors.New("job not found")

	// ErrStaleStatus is returned by Transition when the stored status no
	// longer matches the expected one. Callers drop the work silently.
	ErrStaleStatus = errors.New("job status changed concurrently")

	ErrDeviceNotFound = errors.New("device not found")

	// ErrQueueFull applies backpressure at submission time.
	ErrQueueFull = errors.New("job queue full")

	// ErrRemoteTimeout means a remote worker blew its deadline. The
	// device is marked unreachable and the job gets one more attempt.
	ErrRemoteTimeout = errors.New("remote processing deadline exceeded")

	// ErrRemoteUnreachable means the remote worker could not be reached
	// at all, transport retries included. Treated like a timeout: the
	// device goes unreachable and the job is retried elsewhere.
	ErrRemoteUnreachable = errors.New("remote worker unreachable")
)

// FailureCode is the stable failure vocabulary recorded on failed jobs
// and surfaced to clients.
type FailureCode string

const (
	FailValidation    FailureCode = "ValidationError"
	FailNoDevice      FailureCode = "NoDeviceAvailable"
	FailConversion    FailureCode = "ConversionError"
	FailExtraction    FailureCode = "ExtractionError"
	FailInference     FailureCode = "InferenceError"
	FailStorage       FailureCode = "StorageError"
	FailRemoteTimeout FailureCode = "RemoteTimeout"
	FailInternal      FailureCode = "InternalError"
)

// StageError ties a pipeline failure to its taxonomy code. Conversion,
// extraction, and inference errors are permanent; storage errors are
// retried in place before surfacing here.
type StageError struct {
	Code FailureCode
	Err  error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func ConversionError(err error) *StageError {
	return &StageError{Code: FailConversion, Err: err}
}

func ExtractionError(err error) *StageError {
	return &StageError{Code: FailExtraction, Err: err}
}

func InferenceError(err error) *StageError {
	return &StageError{Code: FailInference, Err: err}
}

func StorageError(err error) *StageError {
	return &StageError{Code: FailStorage, Err: err}
}

// FailureFromError maps an executor error onto the job failure recorded
// in the store.
func FailureFromError(err error) *Failure {
	var stage *StageError
	if errors.As(err, &stage) {
		return &Failure{Code: stage.Code, Message: stage.Err.Error()}
	}
	if errors.Is(err, ErrRemoteTimeout) || errors.Is(err, ErrRemoteUnreachable) {
		return &Failure{Code: FailRemoteTimeout, Message: err.Error()}
	}
	if errors.Is(err, ErrValidation) {
		return &Failure{Code: FailValidation, Message: err.Error()}
	}
	return &Failure{Code: FailInternal, Message: err.Error()}
}
