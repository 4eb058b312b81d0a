package core

import (
	"fmt"
)

// SequenceValidator validates source sequences per partition. Commands
// partition per house (plus one global partition for epoch ticks); each
// partition's sequence must arrive gap-free and in order.
// Not thread-safe — only accessed from the single-threaded dispatcher.
type SequenceValidator struct {
	expectedNextSeq map[string]int64

	gaps       map[string]int64
	outOfOrder map[string]int64
}

func NewSequenceValidator() *SequenceValidator {
	return &SequenceValidator{
		expectedNextSeq: make(map[string]int64),
		gaps:            make(map[string]int64),
		outOfOrder:      make(map[string]int64),
	}
}

// ValidateSequence checks source sequence ordering
func (sv *SequenceValidator) ValidateSequence(
	partition string,
	sourceSequence int64,
	isDuplicate bool,
) error {
	expected := sv.expectedNextSeq[partition]

	if sourceSequence < expected {
		if isDuplicate {
			// Already processed, stale redelivery
			return nil
		}
		sv.outOfOrder[partition]++
		return fmt.Errorf("out-of-order command: partition=%s, expected=%d, got=%d",
			partition, expected, sourceSequence)
	}

	if sourceSequence == expected {
		sv.expectedNextSeq[partition] = expected + 1
		return nil
	}

	// sourceSequence > expected: gap detected
	sv.gaps[partition]++
	return fmt.Errorf("sequence gap: partition=%s, expected=%d, got=%d",
		partition, expected, sourceSequence)
}

// GetExpectedSequence returns the next expected sequence for a partition
func (sv *SequenceValidator) GetExpectedSequence(partition string) int64 {
	return sv.expectedNextSeq[partition]
}

// SetExpectedSequence initializes a partition (used during recovery)
func (sv *SequenceValidator) SetExpectedSequence(partition string, seq int64) {
	sv.expectedNextSeq[partition] = seq
}

// GetAllPartitions snapshots every partition's next expected sequence
func (sv *SequenceValidator) GetAllPartitions() map[string]int64 {
	out := make(map[string]int64, len(sv.expectedNextSeq))
	for partition, seq := range sv.expectedNextSeq {
		out[partition] = seq
	}
	return out
}

// Gaps returns the gap count for a partition
func (sv *SequenceValidator) Gaps(partition string) int64 {
	return sv.gaps[partition]
}

// OutOfOrder returns the out-of-order count for a partition
func (sv *SequenceValidator) OutOfOrder(partition string) int64 {
	return sv.outOfOrder[partition]
}
