package core

import (
	"fmt"

	"LendLedger/internal/protocol"
)

// SequenceValidator enforces per-partition source ordering. Account
// partitions are strict: a gap or out-of-order delivery rejects the op.
// Rate-update partitions tolerate gaps, since a missed tick is superseded
// by the next one anyway.
// Not thread-safe — only accessed from the single-threaded core.
type SequenceValidator struct {
	expectedNextSeq map[string]int64

	gaps       map[string]int64
	outOfOrder map[string]int64
	rateGaps   map[string]int64
}

func NewSequenceValidator() *SequenceValidator {
	return &SequenceValidator{
		expectedNextSeq: make(map[string]int64),
		gaps:            make(map[string]int64),
		outOfOrder:      make(map[string]int64),
		rateGaps:        make(map[string]int64),
	}
}

// ValidateSequence checks strict ordering for an account partition.
func (sv *SequenceValidator) ValidateSequence(partition string, sourceSequence int64, isDuplicate bool) error {
	expected := sv.expectedNextSeq[partition]

	if sourceSequence < expected {
		if isDuplicate {
			return nil
		}
		sv.outOfOrder[partition]++
		return fmt.Errorf("out-of-order op: partition=%s, expected=%d, got=%d",
			partition, expected, sourceSequence)
	}
	if sourceSequence == expected {
		sv.expectedNextSeq[partition] = expected + 1
		return nil
	}
	sv.gaps[partition]++
	return fmt.Errorf("sequence gap: partition=%s, expected=%d, got=%d",
		partition, expected, sourceSequence)
}

// ValidateRateSequence checks rate-update ordering for one currency. Stale
// updates are silently ignored; gaps are counted but accepted.
func (sv *SequenceValidator) ValidateRateSequence(c protocol.Currency, rateSequence int64) (stale bool) {
	partition := fmt.Sprintf("rate:%s", c)
	expected := sv.expectedNextSeq[partition]

	if rateSequence <= expected {
		return true
	}
	if rateSequence > expected+1 {
		sv.rateGaps[partition]++
	}
	sv.expectedNextSeq[partition] = rateSequence
	return false
}

// GetExpectedSequence returns the next expected sequence for a partition
func (sv *SequenceValidator) GetExpectedSequence(partition string) int64 {
	return sv.expectedNextSeq[partition]
}

// SetExpectedSequence initializes a partition cursor (used during recovery)
func (sv *SequenceValidator) SetExpectedSequence(partition string, seq int64) {
	sv.expectedNextSeq[partition] = seq
}

// Snapshot exports every partition cursor.
func (sv *SequenceValidator) Snapshot() map[string]int64 {
	out := make(map[string]int64, len(sv.expectedNextSeq))
	for k, v := range sv.expectedNextSeq {
		out[k] = v
	}
	return out
}

// GetGaps returns the strict-partition gap count.
func (sv *SequenceValidator) GetGaps(partition string) int64 {
	return sv.gaps[partition]
}

// GetOutOfOrder returns the out-of-order count for a partition.
func (sv *SequenceValidator) GetOutOfOrder(partition string) int64 {
	return sv.outOfOrder[partition]
}
