package ports

import "time"

// DecisionObserver receives the outcome of every decision cycle.
type DecisionObserver interface {
	ObserveDecision(refSlot uint64, isBunker bool, took time.Duration)
	ObserveFailure(took time.Duration)
}
