package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// Stats is the process-wide signaling traffic counter.
var Stats = &stats{}

type stats struct {
	MessagesSent atomic.Int64 // signaling messages written to the relay
	MessagesRecv atomic.Int64 // signaling messages dispatched from poll passes
	PollPasses   atomic.Int64 // completed relay poll passes
	RelayErrors  atomic.Int64 // failed relay calls (any operation)
}

func (s *stats) AddSent()       { s.MessagesSent.Add(1) }
func (s *stats) AddRecv()       { s.MessagesRecv.Add(1) }
func (s *stats) AddPoll()       { s.PollPasses.Add(1) }
func (s *stats) AddRelayError() { s.RelayErrors.Add(1) }

// StartStatsReporter launches a goroutine that logs signaling statistics
// every 10 seconds while anything is happening. It stops when ctx is
// cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		var prevSent, prevRecv, prevPolls, prevErrs int64
		for {
			select {
			case <-ticker.C:
				sent := Stats.MessagesSent.Load()
				recv := Stats.MessagesRecv.Load()
				polls := Stats.PollPasses.Load()
				errs := Stats.RelayErrors.Load()

				if sent != prevSent || recv != prevRecv || errs != prevErrs {
					pterm.DefaultLogger.Info(formatStats(sent-prevSent, recv-prevRecv, polls-prevPolls, errs-prevErrs))
				}

				prevSent = sent
				prevRecv = recv
				prevPolls = polls
				prevErrs = errs

			case <-ctx.Done():
				return
			}
		}
	}()
}

// formatStats returns a formatted string of the last interval's counters.
func formatStats(sent, recv, polls, errs int64) string {
	return fmt.Sprintf("Signaling: %2d↑ %2d↓ | Polls: %3d | Relay errors: %d",
		sent, recv, polls, errs)
}
