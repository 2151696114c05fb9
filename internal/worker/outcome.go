package worker

import (
	"fmt"
	"time"
)

// OutcomeKind is the result class of one generation attempt.
type OutcomeKind int

const (
	OutcomeCompleted OutcomeKind = iota
	OutcomeRetry
	OutcomeFailed
	// OutcomeSkipped means the attempt did nothing, e.g. a redelivered task
	// whose record is already terminal.
	OutcomeSkipped
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeCompleted:
		return "completed"
	case OutcomeRetry:
		return "retry"
	case OutcomeFailed:
		return "failed"
	case OutcomeSkipped:
		return "skipped"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// Outcome is what the executor decided for an attempt.
type Outcome struct {
	Kind   OutcomeKind
	Delay  time.Duration
	Reason string
}

func completed() Outcome { return Outcome{Kind: OutcomeCompleted} }

func retryAfter(delay time.Duration, reason string) Outcome {
	return Outcome{Kind: OutcomeRetry, Delay: delay, Reason: reason}
}

func failed(reason string) Outcome { return Outcome{Kind: OutcomeFailed, Reason: reason} }

func skipped(reason string) Outcome { return Outcome{Kind: OutcomeSkipped, Reason: reason} }
