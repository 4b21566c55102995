package metrics

import "time"

// Engine is the interface the floor pipeline records its counters through.
// Hosts that do not collect metrics can pass a NilEngine.
type Engine interface {
	// RecordFloorFetchFailure accounts a failed dynamic floor fetch. The code
	// identifies the stage that failed: "1" network, "2" parse, "3" validation.
	RecordFloorFetchFailure(url string, code string)

	// RecordFloorFetchTime accounts the duration of a completed fetch attempt.
	RecordFloorFetchTime(duration time.Duration)

	// RecordRejectedBid accounts a bid response rejected by floor enforcement.
	RecordRejectedBid(bidder string)

	// RecordSkippedAuction accounts an auction bypassed by the skip rate.
	RecordSkippedAuction()

	// RecordDelayedAuction accounts an auction queued behind an in-flight fetch.
	RecordDelayedAuction()
}

// NilEngine discards all metrics.
type NilEngine struct{}

func (NilEngine) RecordFloorFetchFailure(url string, code string) {}
func (NilEngine) RecordFloorFetchTime(duration time.Duration)     {}
func (NilEngine) RecordRejectedBid(bidder string)                 {}
func (NilEngine) RecordSkippedAuction()                           {}
func (NilEngine) RecordDelayedAuction()                           {}
