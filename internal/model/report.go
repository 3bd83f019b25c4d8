package model

import "time"

// Decision is the confidence gate's verdict on one extracted record.
type Decision struct {
	Valid      bool     `json:"valid"`
	Errors     []string `json:"errors,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
	Confidence float64  `json:"confidence"` // structural confidence after penalties
	Threshold  float64  `json:"threshold"`  // amount-scaled acceptance threshold
	NeedsReview bool    `json:"needs_review"`
}

// ItemResult is the final accounting for one input item. Exactly one is
// produced per submitted item, finalized when the item reaches a terminal
// state.
type ItemResult struct {
	Index      int              `json:"index"` // position in the input slice
	Name       string           `json:"name"`
	State      ItemState        `json:"state"`
	Success    bool             `json:"success"`
	Skipped    bool             `json:"skipped"`
	SkipReason string           `json:"skip_reason,omitempty"`
	Attempts   int              `json:"attempts"`
	Err        error            `json:"-"`
	ErrMessage string           `json:"error,omitempty"`
	Record     *ExtractedRecord `json:"record,omitempty"`
	Decision   *Decision        `json:"decision,omitempty"`
}

// Report aggregates per-item outcomes for a whole batch run. It is frozen
// once ProcessBatch returns; items appear in input order regardless of
// completion order.
type Report struct {
	BatchID       string       `json:"batch_id"`
	Total         int          `json:"total"`
	Successful    int          `json:"successful"`
	Failed        int          `json:"failed"`
	Skipped       int          `json:"skipped"`
	NeedsReview   int          `json:"needs_review"`
	EstimatedCost float64      `json:"estimated_cost"`
	StartedAt     time.Time    `json:"started_at"`
	FinishedAt    time.Time    `json:"finished_at"`
	Items         []ItemResult `json:"items"`
}
