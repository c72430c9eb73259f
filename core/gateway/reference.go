package gateway

import (
	"fmt"
	"strings"
)

const retrySuffix = "-RETRY"

// NewReference derives the payout reference from the transaction id, so a repeated request for the
// same payout carries the same reference. Batch payouts pass the recipient index; a negative index
// means a single payout.
func NewReference(txID string, index int) string {
	if index < 0 {
		return txID
	}
	return fmt.Sprintf("%s-%d", txID, index)
}

// RetryReference returns <ref>-RETRY<n>. An existing retry suffix is replaced, not stacked.
func RetryReference(reference string, attempt int) string {
	if attempt <= 0 {
		return BaseReference(reference)
	}
	return fmt.Sprintf("%s%s%d", BaseReference(reference), retrySuffix, attempt)
}

func BaseReference(reference string) string {
	if i := strings.LastIndex(reference, retrySuffix); i > 0 {
		return reference[:i]
	}
	return reference
}
