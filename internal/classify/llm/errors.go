package llm

import (
	"errors"
	"fmt"
)

// ErrorClass groups service failures by retry policy.
type ErrorClass string

const (
	// ClassThrottled is an explicit rate-limit signal (HTTP 429).
	ClassThrottled ErrorClass = "throttled"
	// ClassOverloaded means the upstream is shedding load (HTTP 529).
	ClassOverloaded ErrorClass = "overloaded"
	// ClassTransient covers timeouts, network failures and other 5xx.
	ClassTransient ErrorClass = "transient"
	// ClassFatal is a non-retryable request error (other 4xx, bad payload).
	ClassFatal ErrorClass = "fatal"
)

// ErrEmptyResponse is returned when the service replies without text content.
var ErrEmptyResponse = errors.New("service returned no text content")

// ServiceError carries the failure class of a classification service call.
type ServiceError struct {
	StatusCode int
	Class      ErrorClass
	Message    string
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("service %s error (status %d): %s: %v",
			e.Class, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("service %s error (status %d): %s",
		e.Class, e.StatusCode, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func classifyStatus(status int) ErrorClass {
	switch {
	case status == 429:
		return ClassThrottled
	case status == 529:
		return ClassOverloaded
	case status >= 500:
		return ClassTransient
	default:
		return ClassFatal
	}
}
