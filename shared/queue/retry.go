package queue

import (
	"time"

	"github.com/aaronwang/bidlord/shared/apperr"
)

// Action is what a worker does with a delivered message
type Action int

const (
	// Ack removes the message: it was applied or can never be applied
	Ack Action = iota
	// Retry asks for redelivery after the policy delay
	Retry
	// DeadLetter records the job as failed and terminates redelivery
	DeadLetter
)

func (a Action) String() string {
	switch a {
	case Ack:
		return "ack"
	case Retry:
		return "retry"
	case DeadLetter:
		return "dead_letter"
	default:
		return "unknown"
	}
}

// RetryPolicy bounds redelivery of retryable failures
type RetryPolicy struct {
	MaxRetries int
	Delay      time.Duration
}

// DefaultRetryPolicy retries 3 times with a fixed 5s delay
var DefaultRetryPolicy = RetryPolicy{MaxRetries: 3, Delay: 5 * time.Second}

// Decide maps the outcome of delivery number attempt (1-based) to an Action
func (p RetryPolicy) Decide(err error, attempt uint64) Action {
	if err == nil || !apperr.Retryable(err) {
		return Ack
	}
	if attempt <= uint64(p.MaxRetries) {
		return Retry
	}
	return DeadLetter
}
