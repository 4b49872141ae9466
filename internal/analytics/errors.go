package analytics

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrInvalidPeriod is returned when a stock reference period is not positive.
var ErrInvalidPeriod = errors.New("reference period must be positive")

// ValidationError identifies a rejected row and the offending field.
type ValidationError struct {
	RecordID string `json:"record_id"`
	Field    string `json:"field"`
	Reason   string `json:"reason"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("record %q: %s %s", e.RecordID, e.Field, e.Reason)
}

// SkipReport summarises rows dropped from a batch so a caller can show
// partial results with a warning.
type SkipReport struct {
	Count   int            `json:"count"`
	Reasons map[string]int `json:"reasons,omitempty"`
}

func newSkipReport(errs []*ValidationError) SkipReport {
	r := SkipReport{Count: len(errs)}
	if len(errs) == 0 {
		return r
	}
	r.Reasons = make(map[string]int)
	for _, e := range errs {
		r.Reasons[e.Field+" "+e.Reason]++
	}
	return r
}

// String renders "N rows skipped, reasons: ..." with reasons in a stable order.
func (r SkipReport) String() string {
	if r.Count == 0 {
		return "0 rows skipped"
	}
	keys := make([]string, 0, len(r.Reasons))
	for k := range r.Reasons {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s (%d)", k, r.Reasons[k])
	}
	return fmt.Sprintf("%d rows skipped, reasons: %s", r.Count, strings.Join(parts, ", "))
}
