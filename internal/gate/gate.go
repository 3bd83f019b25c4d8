// Package gate decides whether an extracted record is trustworthy enough
// to accept automatically, or must be routed to manual review. It never
// fails; every record gets a decision.
package gate

import (
	"fmt"
	"time"

	"github.com/sells-group/docingest/internal/model"
)

// Structural penalties. Confidence starts at 1.0 and floors at 0.
const (
	penaltyMissingDate     = 0.4
	penaltyUnparseableDate = 0.3
	penaltyFutureDate      = 0.2
	penaltyStaleDate       = 0.1
	penaltyBadAmount       = 0.4
	penaltyHighAmount      = 0.2
	penaltyTinyAmount      = 0.1
	penaltyShortVendor     = 0.1
	penaltyUnknownCategory = 0.05 // warning-only
)

// Amount-banded acceptance thresholds. Higher-value records carry more
// risk from misclassification, so automatic acceptance gets stricter as
// the amount grows.
const (
	highValueCeiling = 100000.0
	midValueCeiling  = 10000.0
	lowValueCeiling  = 1000.0

	thresholdHigh    = 0.90
	thresholdMid     = 0.85
	thresholdLow     = 0.75
	thresholdDefault = 0.65
)

// minAmount is the floor below which an amount is implausible.
const minAmount = 0.01

// staleAfter is how old a record date can be before it is penalized.
const staleAfter = 2 * 365 * 24 * time.Hour

var dateFormats = []string{
	"2006-01-02",
	"2006-01-02T15:04:05Z07:00",
	"01/02/2006",
	"Jan 2, 2006",
}

// allowedCategories is the fixed category allow-list. Unknown categories
// are a warning, not a rejection.
var allowedCategories = map[string]bool{
	"meals":                 true,
	"travel":                true,
	"lodging":               true,
	"office_supplies":       true,
	"software":              true,
	"hardware":              true,
	"utilities":             true,
	"rent":                  true,
	"insurance":             true,
	"professional_services": true,
	"marketing":             true,
	"medical":               true,
	"other":                 true,
}

// Gate evaluates extracted records. The zero value works; WithClock
// exists for tests.
type Gate struct {
	now func() time.Time
}

// New returns a Gate using the wall clock.
func New() *Gate {
	return &Gate{now: time.Now}
}

// WithClock sets the time source, for tests.
func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.now = now
	return g
}

// ValidateRecord scores a record's structural plausibility. It returns
// whether the record is structurally valid, the defects found, any
// warnings, and the residual confidence after penalties.
func (g *Gate) ValidateRecord(rec model.ExtractedRecord) (valid bool, errs, warnings []string, confidence float64) {
	confidence = 1.0

	switch {
	case rec.Date == "":
		errs = append(errs, "date is missing")
		confidence -= penaltyMissingDate
	default:
		parsed, err := parseDate(rec.Date)
		now := g.now()
		switch {
		case err != nil:
			errs = append(errs, fmt.Sprintf("date %q is not parseable", rec.Date))
			confidence -= penaltyUnparseableDate
		case parsed.After(now):
			errs = append(errs, fmt.Sprintf("date %s is in the future", rec.Date))
			confidence -= penaltyFutureDate
		case now.Sub(parsed) > staleAfter:
			errs = append(errs, fmt.Sprintf("date %s is more than two years old", rec.Date))
			confidence -= penaltyStaleDate
		}
	}

	switch {
	case rec.Amount <= 0:
		errs = append(errs, "amount must be positive")
		confidence -= penaltyBadAmount
	case rec.Amount > highValueCeiling:
		errs = append(errs, fmt.Sprintf("amount %.2f exceeds the high-value ceiling", rec.Amount))
		confidence -= penaltyHighAmount
	case rec.Amount < minAmount:
		errs = append(errs, fmt.Sprintf("amount %.4f is below the minimum", rec.Amount))
		confidence -= penaltyTinyAmount
	}

	if len(rec.Vendor) < 2 {
		errs = append(errs, "vendor name is missing or too short")
		confidence -= penaltyShortVendor
	}

	if rec.Category != "" && !allowedCategories[rec.Category] {
		warnings = append(warnings, fmt.Sprintf("category %q is not in the allow-list", rec.Category))
		confidence -= penaltyUnknownCategory
	}

	if confidence < 0 {
		confidence = 0
	}
	return len(errs) == 0, errs, warnings, confidence
}

// Threshold returns the minimum confidence required to auto-accept a
// record of the given amount. Monotonically non-decreasing in amount.
func (g *Gate) Threshold(amount float64) float64 {
	switch {
	case amount > highValueCeiling:
		return thresholdHigh
	case amount > midValueCeiling:
		return thresholdMid
	case amount > lowValueCeiling:
		return thresholdLow
	default:
		return thresholdDefault
	}
}

// Evaluate produces the full decision for a record given the confidence
// the extraction backend reported for it. NeedsReview is a three-way OR:
// structural failure, extraction confidence under the amount-scaled
// threshold, or structural confidence under that threshold.
func (g *Gate) Evaluate(rec model.ExtractedRecord, extractionConfidence float64) model.Decision {
	valid, errs, warnings, confidence := g.ValidateRecord(rec)
	threshold := g.Threshold(rec.Amount)

	return model.Decision{
		Valid:       valid,
		Errors:      errs,
		Warnings:    warnings,
		Confidence:  confidence,
		Threshold:   threshold,
		NeedsReview: !valid || extractionConfidence < threshold || confidence < threshold,
	}
}

// NeedsReview is a convenience wrapper over Evaluate.
func (g *Gate) NeedsReview(rec model.ExtractedRecord, extractionConfidence float64) bool {
	return g.Evaluate(rec, extractionConfidence).NeedsReview
}

func parseDate(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range dateFormats {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
