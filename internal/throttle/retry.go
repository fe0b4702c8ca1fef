package throttle

import (
	"context"
	"errors"
	"net"

	"github.com/vietddude/classifier/internal/classify/llm"
)

// Class is the retry policy bucket for a failed service call.
type Class string

const (
	ClassThrottled  Class = "throttled"
	ClassTimeout    Class = "timeout"
	ClassOverloaded Class = "overloaded"
	ClassFatal      Class = "fatal"
)

// Classify maps a service call error to its retry class. Unknown errors are
// fatal: the batch is failed rather than retried blind.
func Classify(err error) Class {
	var se *llm.ServiceError
	if errors.As(err, &se) {
		switch se.Class {
		case llm.ClassThrottled:
			return ClassThrottled
		case llm.ClassOverloaded:
			return ClassOverloaded
		case llm.ClassTransient:
			return ClassTimeout
		default:
			return ClassFatal
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ClassTimeout
	}
	return ClassFatal
}
