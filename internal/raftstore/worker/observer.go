package worker

import "time"

// Request kinds reported by PDRunner.
const (
	RequestAskSplit       = "ask split"
	RequestAskMerge       = "ask merge"
	RequestHeartbeat      = "heartbeat"
	RequestStoreHeartbeat = "store heartbeat"
	RequestReportSplit    = "report split"
	RequestGetRegion      = "get region"
)

// Request outcomes. Every request is counted once as OutcomeAll and once as
// success or failure.
const (
	OutcomeAll     = "all"
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Results of peer validation.
const (
	ValidateEpochError = "region epoch error"
	ValidatePeerStale  = "peer stale"
	ValidatePeerValid  = "peer valid"
)

// Observer receives PDRunner events, typically to export them as metrics.
type Observer interface {
	OnRequest(kind, outcome string)
	OnHeartbeatDirective(directive string)
	OnValidatePeer(result string)
}

// CompactObserver receives compaction timings.
type CompactObserver interface {
	ObserveCompaction(cf string, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) OnRequest(string, string)                {}
func (nopObserver) OnHeartbeatDirective(string)             {}
func (nopObserver) OnValidatePeer(string)                   {}
func (nopObserver) ObserveCompaction(string, time.Duration) {}
