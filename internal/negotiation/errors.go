package negotiation

import (
	"errors"
	"fmt"
	"time"
)

// ErrNegotiationInProgress is returned when StartNegotiation is called while
// an attempt for the session is already running. The original attempt keeps
// its timers; no second offer is sent.
var ErrNegotiationInProgress = errors.New("negotiation already in progress")

// ErrNegotiationTimeout is the sentinel matched by errors.Is for both
// timeout phases.
var ErrNegotiationTimeout = errors.New("negotiation timed out")

// TimeoutError reports which phase exceeded its deadline.
type TimeoutError struct {
	Phase   State // StateOffering or StateAnswering
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Phase, e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return ErrNegotiationTimeout }
